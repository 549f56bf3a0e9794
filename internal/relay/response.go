package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// downloadURL builds the percent-encoded one-shot URL spec.md §4.2.4 names:
// <origin><base>/ud/f/<token>/<filename>.
func (h *Handler) downloadURL(r *http.Request, token, filename string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	base := strings.TrimSuffix(h.cfg.BasePath, "/")
	return fmt.Sprintf("%s://%s%s/ud/f/%s/%s", scheme, r.Host, base, url.PathEscape(token), url.PathEscape(filename))
}

// writeUploadSuccess renders the upload result per spec.md §8 scenario S1:
// plain "OK\n<url>\n" for CLI-style callers, a minimal HTML page for
// browsers.
func (h *Handler) writeUploadSuccess(w http.ResponseWriter, r *http.Request, token, filename string) {
	u := h.downloadURL(r, token, filename)
	if isBrowser(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, "<!doctype html><title>uploaded</title><p>Uploaded. Download link (works once):</p><p><a href=%q>%s</a></p>", u, u)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "OK\n%s\n", u)
}

// writeUploadError renders a non-opaque failure (validation, auth, rate
// limit, storage) per spec.md §7: browsers rendering /ud get it folded back
// into the HTML form, CLI callers get a plain status line.
func (h *Handler) writeUploadError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if isBrowser(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<!doctype html><title>upload failed</title><p>Error: %s</p>%s", msg, uploadFormHTML)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "error: %s\n", msg)
}

// scheduleDeletes fires best-effort Blob Store deletions for a batch of
// evicted objectKeys, detached from the triggering request (spec.md §3:
// "in all removal paths the objectKey is enqueued for Blob Store deletion").
func (h *Handler) scheduleDeletes(keys []string) {
	for _, key := range keys {
		key := key
		backgroundOp(h.logger, "delete", func(ctx context.Context) error {
			return h.store.Delete(ctx, key)
		})
	}
}
