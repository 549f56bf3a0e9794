package relay

import (
	"fmt"
	"net/http"
	"strings"
)

const helpText = `one-shot file relay

  PUT  /ud?name=<file>       streamed upload, Content-Length required
  POST /ud                   multipart (field "file") or raw-text upload
  GET  /ud/f/<token>/<name>  one-shot download (single use)
  GET  /hc                   health and usage counters
  GET  /hp                   this text
`

const uploadFormHTML = `<!doctype html><title>upload</title>
<form method=post enctype="multipart/form-data">
<input type=file name=file>
<input type=submit value=upload>
</form>`

// isBrowser is the heuristic spec.md §4.2.7 calls for: a ?format= override
// wins outright, otherwise an Accept header that prefers text/html, or a
// User-Agent that doesn't look like a script/CLI client, counts as a
// browser.
func isBrowser(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "html":
		return true
	case "text", "json":
		return false
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return true
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, cli := range []string{"curl", "wget", "httpie", "python-requests", "go-http-client"} {
		if strings.Contains(ua, cli) {
			return false
		}
	}
	return ua != ""
}

// handleHelp implements GET /hp (spec.md §4.2.7).
func (h *Handler) handleHelp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		emptyNotFound(w, r)
		return
	}
	if isBrowser(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><title>help</title><pre>%s</pre>", helpText)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(helpText)) //nolint:errcheck
}

// handleUploadPage implements GET /ud (spec.md §4.2.7): an HTML upload form
// for browsers, help text for CLI callers.
func (h *Handler) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	if isBrowser(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(uploadFormHTML)) //nolint:errcheck
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(helpText)) //nolint:errcheck
}
