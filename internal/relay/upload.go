package relay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zynqcloud/oneshot/internal/actor"
	"github.com/zynqcloud/oneshot/internal/store"
)

// handleUD dispatches the three verbs spec.md §6's route table allows on
// /ud and /ud/<name>: GET renders help/the upload form, POST takes a
// multipart or raw-text upload, PUT takes a streamed upload.
func (h *Handler) handleUD(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Path != "/ud" {
			emptyNotFound(w, r)
			return
		}
		h.handleUploadPage(w, r)
	case http.MethodPost:
		if r.URL.Path != "/ud" {
			emptyNotFound(w, r)
			return
		}
		h.handlePostUpload(w, r)
	case http.MethodPut:
		h.handlePutUpload(w, r)
	default:
		emptyNotFound(w, r)
	}
}

const maxMultipartMemory = 32 << 20

// handlePostUpload implements spec.md §4.2.2's multipart and raw-text modes.
func (h *Handler) handlePostUpload(w http.ResponseWriter, r *http.Request) {
	h.metrics.UploadsTotal.Add(1)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.uploadMultipart(w, r)
		return
	}
	h.uploadRawText(w, r)
}

func (h *Handler) uploadMultipart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxMB<<20+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		h.metrics.UploadsFailed.Add(1)
		h.writeUploadError(w, r, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.metrics.UploadsFailed.Add(1)
		h.writeUploadError(w, r, http.StatusBadRequest, "missing form field \"file\"")
		return
	}
	defer file.Close()

	filename := header.Filename
	contentType := header.Header.Get("Content-Type")
	size := header.Size

	apiKey := extractAPIKey(r)
	h.doUpload(w, r, apiKey, filename, contentType, size, file)
}

func (h *Handler) uploadRawText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxMB<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.UploadsFailed.Add(1)
		h.writeUploadError(w, r, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	filename := fmt.Sprintf("%d.txt", time.Now().Unix())
	apiKey := extractAPIKey(r)
	h.doUpload(w, r, apiKey, filename, "text/plain; charset=utf-8", int64(len(body)), strings.NewReader(string(body)))
}

// handlePutUpload implements spec.md §4.2.2's streamed-PUT mode.
func (h *Handler) handlePutUpload(w http.ResponseWriter, r *http.Request) {
	h.metrics.UploadsTotal.Add(1)

	if r.ContentLength < 0 {
		h.metrics.UploadsFailed.Add(1)
		w.WriteHeader(http.StatusLengthRequired)
		return
	}
	if r.ContentLength > h.cfg.MaxMB<<20 {
		h.metrics.UploadsFailed.Add(1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	filename := resolvePutFilename(r)
	contentType := r.Header.Get("Content-Type")
	apiKey := extractAPIKey(r)

	h.doUpload(w, r, apiKey, filename, contentType, r.ContentLength, r.Body)
}

// resolvePutFilename implements spec.md §4.2.2's priority order for a
// streamed PUT: query name|filename, then X-Filename|X-File-Name, then
// Content-Disposition (RFC 5987 or plain), then the trailing path segment
// after /ud/, falling back to random 8 lowercase letters + ".bin".
func resolvePutFilename(r *http.Request) string {
	if v := r.URL.Query().Get("name"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("filename"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Filename"); v != "" {
		return v
	}
	if v := r.Header.Get("X-File-Name"); v != "" {
		return v
	}
	if v := filenameFromContentDisposition(r.Header.Get("Content-Disposition")); v != "" {
		return v
	}
	if name := strings.TrimPrefix(r.URL.Path, "/ud/"); name != "" && name != r.URL.Path {
		if decoded, err := url.PathUnescape(name); err == nil {
			return decoded
		}
		return name
	}
	return randomName() + ".bin"
}

func filenameFromContentDisposition(v string) string {
	if v == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	if fn := params["filename*"]; fn != "" {
		// RFC 5987: "UTF-8''<pct-encoded>"
		if i := strings.Index(fn, "''"); i != -1 {
			if decoded, err := url.PathUnescape(fn[i+2:]); err == nil {
				return decoded
			}
		}
	}
	return params["filename"]
}

func randomName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively impossible on a real OS; fall
		// back to a fixed-but-valid name rather than propagate an error from
		// a pure naming helper.
		return "download"
	}
	for i, c := range buf {
		b[i] = letters[int(c)%len(letters)]
	}
	return string(b)
}

// extractAPIKey reads the caller's submitted key from query, header, or
// (already-parsed) form value, in that order — spec.md §6.
func extractAPIKey(r *http.Request) string {
	if v := r.URL.Query().Get("key"); v != "" {
		return v
	}
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	if r.MultipartForm != nil {
		return r.FormValue("key")
	}
	return ""
}

// doUpload runs the reserve → upload → commit/abort sequence common to all
// three intake modes (spec.md §4.2.4).
func (h *Handler) doUpload(w http.ResponseWriter, r *http.Request, apiKey, filename, contentType string, size int64, body io.Reader) {
	ip := clientIP(r)

	rr, evictions, err := h.actor.Reserve(ip, apiKey, filename, size, contentType)
	h.scheduleDeletes(evictions)
	if err != nil {
		h.failReserve(w, r, err)
		return
	}

	meta := store.Meta{Filename: filename, ContentType: contentType, UploadedAt: time.Now().Unix()}
	_, putErr := h.store.Put(r.Context(), rr.ObjectKey, body, meta)
	if putErr != nil {
		h.metrics.UploadsFailed.Add(1)
		h.logger.Error("blob put failed", "objectKey", rr.ObjectKey, "err", putErr)
		token := rr.Token
		backgroundOp(h.logger, "abort", func(ctx context.Context) error {
			_, err := h.actor.Abort(token)
			return err
		})
		h.writeUploadError(w, r, http.StatusInternalServerError, "storage write failed")
		return
	}

	token := rr.Token
	backgroundOp(h.logger, "commit", func(ctx context.Context) error {
		evicted, err := h.actor.Commit(token)
		h.scheduleDeletes(evicted)
		return err
	})

	h.writeUploadSuccess(w, r, rr.Token, filename)
}

func (h *Handler) failReserve(w http.ResponseWriter, r *http.Request, err error) {
	h.metrics.UploadsFailed.Add(1)
	switch {
	case errors.Is(err, actor.ErrUnauthorized):
		h.metrics.Unauthorized.Add(1)
		h.writeUploadError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, actor.ErrTooManyRequest):
		h.metrics.RateLimited.Add(1)
		h.writeUploadError(w, r, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, actor.ErrNotFound):
		h.writeUploadError(w, r, http.StatusBadRequest, "invalid filename")
	default:
		h.logger.Error("reserve failed", "err", err)
		h.writeUploadError(w, r, http.StatusInternalServerError, "internal error")
	}
}
