package relay

import (
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zynqcloud/oneshot/internal/actor"
	"github.com/zynqcloud/oneshot/internal/config"
	"github.com/zynqcloud/oneshot/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, cfg *config.Relay) *Handler {
	t.Helper()
	act, err := actor.Open(t.TempDir(), actor.Config{
		APIKey:       cfg.APIKey,
		RateLimitSec: cfg.RateLimitSec,
		MaxPending:   cfg.MaxPending,
		TTLSec:       cfg.TTLSec,
	})
	if err != nil {
		t.Fatalf("open actor: %v", err)
	}
	t.Cleanup(func() { act.Close() })

	blob, err := store.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	return New(cfg, act, blob, discardLogger())
}

func baseCfg() *config.Relay {
	return &config.Relay{
		MaxMB:      10,
		MaxPending: 10,
		TTLSec:     86400,
	}
}

// waitForDownload polls GET until it stops 404ing, since commit after a
// successful upload runs on a detached goroutine (spec.md §5).
func waitForDownload(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var rec *httptest.ResponseRecorder
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	return rec
}

// TestS1HappyPath covers spec.md §8 S1: PUT upload, one successful GET, then
// a second GET for the same URL gets the empty 404 (one-shot).
func TestS1HappyPath(t *testing.T) {
	h := newTestHandler(t, baseCfg())

	body := "hello one-shot"
	putReq := httptest.NewRequest(http.MethodPut, "/ud/greeting.txt", strings.NewReader(body))
	putReq.ContentLength = int64(len(body))
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusCreated {
		t.Fatalf("put upload: got %d, body %q", putRec.Code, putRec.Body.String())
	}

	lines := strings.SplitN(putRec.Body.String(), "\n", 2)
	if len(lines) != 2 || lines[0] != "OK" {
		t.Fatalf("unexpected upload response: %q", putRec.Body.String())
	}
	downloadURL := strings.TrimSpace(lines[1])
	// downloadURL is absolute (scheme://host/...); keep just the path+query
	// for httptest.NewRequest, which wants a URI relative to the handler.
	if i := strings.Index(downloadURL, "/ud/f/"); i >= 0 {
		downloadURL = downloadURL[i:]
	}

	rec := waitForDownload(t, h, downloadURL)
	if rec.Code != http.StatusOK {
		t.Fatalf("first download: got %d", rec.Code)
	}
	if got := rec.Body.String(); got != body {
		t.Fatalf("downloaded body = %q, want %q", got, body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "greeting.txt") {
		t.Fatalf("Content-Disposition missing filename: %q", cd)
	}

	// The second download of the same URL must be the same opaque 404 as any
	// unknown path — no distinguishing trace that the token ever existed.
	second := httptest.NewRequest(http.MethodGet, downloadURL, nil)
	secondRec := httptest.NewRecorder()
	h.ServeHTTP(secondRec, second)
	if secondRec.Code != http.StatusNotFound || secondRec.Body.Len() != 0 {
		t.Fatalf("second download: got %d body %q, want empty 404", secondRec.Code, secondRec.Body.String())
	}
}

// TestS2OverwriteEvictsPrior covers spec.md §8 S2: uploading the same
// filename twice evicts the first token; its URL stops working.
func TestS2OverwriteEvictsPrior(t *testing.T) {
	h := newTestHandler(t, baseCfg())

	put := func(body string) string {
		req := httptest.NewRequest(http.MethodPut, "/ud/same.txt", strings.NewReader(body))
		req.ContentLength = int64(len(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload %q: got %d", body, rec.Code)
		}
		lines := strings.SplitN(rec.Body.String(), "\n", 2)
		u := strings.TrimSpace(lines[1])
		return u[strings.Index(u, "/ud/f/"):]
	}

	firstURL := put("version one")
	secondURL := put("version two")

	// Give the first upload's commit goroutine a moment, then confirm the
	// second token works and the first does not.
	rec := waitForDownload(t, h, secondURL)
	if rec.Code != http.StatusOK || rec.Body.String() != "version two" {
		t.Fatalf("second upload download: code=%d body=%q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, firstURL, nil)
	firstRec := httptest.NewRecorder()
	h.ServeHTTP(firstRec, req)
	if firstRec.Code != http.StatusNotFound {
		t.Fatalf("evicted first upload: got %d, want 404", firstRec.Code)
	}
}

// TestS3RateLimited covers spec.md §8 S3: a second upload from the same IP
// inside the rate-limit window is rejected.
func TestS3RateLimited(t *testing.T) {
	cfg := baseCfg()
	cfg.RateLimitSec = 60
	h := newTestHandler(t, cfg)

	upload := func() int {
		req := httptest.NewRequest(http.MethodPut, "/ud/a.txt", strings.NewReader("x"))
		req.RemoteAddr = "203.0.113.9:1234"
		req.ContentLength = 1
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := upload(); code != http.StatusCreated {
		t.Fatalf("first upload: got %d", code)
	}
	if code := upload(); code != http.StatusTooManyRequests {
		t.Fatalf("second upload inside window: got %d, want 429", code)
	}
}

// TestS4CapEviction covers spec.md §8 S4: once MaxPending ready tokens
// exist, the oldest is evicted on the next commit.
func TestS4CapEviction(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxPending = 2
	h := newTestHandler(t, cfg)

	var urls []string
	for i := 0; i < 3; i++ {
		body := strings.Repeat("x", i+1)
		req := httptest.NewRequest(http.MethodPut, "/ud/", strings.NewReader(body))
		req.URL.RawQuery = "name=file" + string(rune('a'+i)) + ".txt"
		req.ContentLength = int64(len(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload %d: got %d body %q", i, rec.Code, rec.Body.String())
		}
		lines := strings.SplitN(rec.Body.String(), "\n", 2)
		u := strings.TrimSpace(lines[1])
		path := u[strings.Index(u, "/ud/f/"):]
		urls = append(urls, path)
		// enforceCap runs on commit; commit each upload synchronously before
		// the next one so the FIFO order is deterministic. Commit is
		// idempotent, so the handler's own background commit becomes a no-op,
		// and unlike a download this does not consume the token.
		token := strings.SplitN(strings.TrimPrefix(path, "/ud/f/"), "/", 2)[0]
		if _, err := h.actor.Commit(token); err != nil {
			t.Fatalf("commit upload %d: %v", i, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, urls[0], nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("oldest token should have been capped out, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, urls[2], nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("newest token should still be claimable, got %d", rec2.Code)
	}
}

// TestUnauthorizedUpload covers the API-key check.
func TestUnauthorizedUpload(t *testing.T) {
	cfg := baseCfg()
	cfg.APIKey = "secret"
	h := newTestHandler(t, cfg)

	req := httptest.NewRequest(http.MethodPut, "/ud/x.txt", strings.NewReader("x"))
	req.ContentLength = 1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

// TestUnknownPathIsEmpty404 covers spec.md §4.2.1/§7: anything outside the
// route table, including a wrong method on a known path, is an empty 404.
func TestUnknownPathIsEmpty404(t *testing.T) {
	h := newTestHandler(t, baseCfg())

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/does-not-exist", nil),
		httptest.NewRequest(http.MethodDelete, "/ud", nil),
		httptest.NewRequest(http.MethodPost, "/hc", nil),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound || rec.Body.Len() != 0 || rec.Header().Get("Allow") != "" {
			t.Fatalf("%s %s: got %d body %q Allow=%q, want bare empty 404",
				req.Method, req.URL.Path, rec.Code, rec.Body.String(), rec.Header().Get("Allow"))
		}
	}
}

// TestMultipartUpload covers the multipart intake mode.
func TestMultipartUpload(t *testing.T) {
	h := newTestHandler(t, baseCfg())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	io.WriteString(part, "a,b,c\n1,2,3\n") //nolint:errcheck
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ud", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("multipart upload: got %d body %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "report.csv") {
		t.Fatalf("response should carry the claimed filename: %q", rec.Body.String())
	}
}

// TestHealthEndpoint exercises /hc in JSON mode.
func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, baseCfg())

	req := httptest.NewRequest(http.MethodGet, "/hc", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("hc: got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "json") {
		t.Fatalf("hc should be JSON for an API client, got Content-Type %q", rec.Header().Get("Content-Type"))
	}
}
