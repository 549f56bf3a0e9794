package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/zynqcloud/oneshot/internal/sanitize"
	"github.com/zynqcloud/oneshot/internal/store"
)

// handleDownload implements spec.md §4.2.5: claim-before-stream, single
// consumption, uniform empty 404 on any failure.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		emptyNotFound(w, r)
		return
	}

	token, filename, ok := parseDownloadPath(r.URL.Path)
	if !ok {
		emptyNotFound(w, r)
		return
	}

	h.metrics.DownloadsTotal.Add(1)

	ip := clientIP(r)
	cr, evictions, err := h.actor.Claim(token, filename, ip)
	h.scheduleDeletes(evictions)
	if err != nil {
		h.metrics.DownloadsMiss.Add(1)
		emptyNotFound(w, r)
		return
	}

	rc, _, size, err := h.store.Get(r.Context(), cr.ObjectKey)
	if err != nil {
		// Claimed but the object is gone (spec.md §4.2.5: "get returns no
		// object after a successful claim"). Still finalize, still 404.
		h.finalizeAfterDownload(token, cr.ObjectKey)
		if errors.Is(err, store.ErrNotFound) {
			emptyNotFound(w, r)
			return
		}
		h.logger.Error("blob get failed after claim", "objectKey", cr.ObjectKey, "err", err)
		emptyNotFound(w, r)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", cr.ContentType)
	w.Header().Set("Content-Disposition", sanitize.ContentDisposition(cr.Filename))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc) //nolint:errcheck

	// Post-response cleanup runs regardless of a mid-stream disconnect
	// (spec.md §5): the copy above has already returned by the time we get
	// here, so this adds no latency to the response itself.
	h.finalizeAfterDownload(token, cr.ObjectKey)
}

func (h *Handler) finalizeAfterDownload(token, objectKey string) {
	backgroundOp(h.logger, "finalize", func(ctx context.Context) error {
		_, err := h.actor.Finalize(token)
		return err
	})
	backgroundOp(h.logger, "delete", func(ctx context.Context) error {
		return h.store.Delete(ctx, objectKey)
	})
}

// parseDownloadPath extracts token and filename from "/ud/f/<token>/<name>",
// percent-decoding then sanitizing the filename exactly as spec.md §4.2.5
// and §6 require; a malformed path is reported as !ok, which the caller
// turns into the same empty 404 as any other miss.
func parseDownloadPath(path string) (token, filename string, ok bool) {
	rest := strings.TrimPrefix(path, "/ud/f/")
	if rest == path {
		return "", "", false
	}
	i := strings.Index(rest, "/")
	if i < 0 || i == 0 {
		return "", "", false
	}
	token = rest[:i]
	rawName := rest[i+1:]
	if rawName == "" {
		return "", "", false
	}
	decoded, err := url.PathUnescape(rawName)
	if err != nil {
		decoded = rawName
	}
	clean := sanitize.Filename(decoded)
	if clean == "" {
		return "", "", false
	}
	return token, clean, true
}

