package gateway

import (
	"bytes"
	"crypto/md5" //nolint:gosec // test fixture only
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zynqcloud/oneshot/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUpstream records every request it receives and answers a fixed
// {errcode:0} success, letting tests assert against what the Dispatcher sent
// without reaching a real chat webhook.
func fakeUpstream(t *testing.T) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var received []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		received = append(received, r)

		if strings.Contains(r.URL.Path, "upload_media") {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "errmsg": "ok", "media_id": "MEDIA123"}) //nolint:errcheck
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "errmsg": "ok"}) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func newTestHandler(upstreamBase string) *Handler {
	cfg := &config.Gateway{UpstreamBase: upstreamBase, BotKey: "botkey"}
	dispatcher := NewDispatcher(cfg.UpstreamBase, cfg.BotKey)
	return New(cfg, dispatcher, discardLogger())
}

// TestS6TextDispatch covers spec.md §8 S6: a plain-text JSON message is
// normalized, built, and sent upstream in one step.
func TestS6TextDispatch(t *testing.T) {
	upstream, received := fakeUpstream(t)
	h := newTestHandler(upstream.URL)

	body := `{"type":"text","content":"hello team"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch: got %d body %q", rec.Code, rec.Body.String())
	}
	var result dispatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected ok=true, got %+v", result)
	}

	if len(*received) != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", len(*received))
	}
	sentBody, _ := io.ReadAll((*received)[0].Body)
	var env map[string]any
	json.Unmarshal(sentBody, &env) //nolint:errcheck
	if env["msgtype"] != "text" {
		t.Fatalf("envelope msgtype = %v, want text", env["msgtype"])
	}
	text, _ := env["text"].(map[string]any)
	if text["content"] != "hello team" {
		t.Fatalf("envelope text.content = %v, want %q", text["content"], "hello team")
	}
}

// TestS7ImageAutoMD5 covers spec.md §8 S7: an image given only base64 has
// its md5 computed automatically.
func TestS7ImageAutoMD5(t *testing.T) {
	upstream, received := fakeUpstream(t)
	h := newTestHandler(upstream.URL)

	payload := []byte("fake png bytes")
	sum := md5.Sum(payload)
	wantMD5 := hex.EncodeToString(sum[:])

	b64 := base64.StdEncoding.EncodeToString(payload)
	body := `{"type":"image","base64":"` + b64 + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch: got %d body %q", rec.Code, rec.Body.String())
	}

	sentBody, _ := io.ReadAll((*received)[0].Body)
	var env map[string]any
	json.Unmarshal(sentBody, &env) //nolint:errcheck
	image, _ := env["image"].(map[string]any)
	if image["md5"] != wantMD5 {
		t.Fatalf("envelope image.md5 = %v, want %q", image["md5"], wantMD5)
	}
}

// TestTwoStepFileDispatch covers the multipart file path: UploadMedia runs
// first to obtain a media_id, then Send carries it.
func TestTwoStepFileDispatch(t *testing.T) {
	upstream, received := fakeUpstream(t)
	h := newTestHandler(upstream.URL)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	io.WriteString(part, strings.Repeat("x", 64)) //nolint:errcheck
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch: got %d body %q", rec.Code, rec.Body.String())
	}
	var result dispatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.MediaID != "MEDIA123" {
		t.Fatalf("result.MediaID = %q, want MEDIA123", result.MediaID)
	}
	if len(*received) != 2 {
		t.Fatalf("expected upload then send, got %d upstream calls", len(*received))
	}
	if !strings.Contains((*received)[0].URL.Path, "upload_media") {
		t.Fatalf("first call should be the upload leg, got %s", (*received)[0].URL.Path)
	}

	sendBody, _ := io.ReadAll((*received)[1].Body)
	var env map[string]any
	json.Unmarshal(sendBody, &env) //nolint:errcheck
	file, _ := env["file"].(map[string]any)
	if file["media_id"] != "MEDIA123" {
		t.Fatalf("send envelope file.media_id = %v, want MEDIA123", file["media_id"])
	}
}

// TestUnauthorizedDispatch covers the token allowlist.
func TestUnauthorizedDispatch(t *testing.T) {
	upstream, _ := fakeUpstream(t)
	cfg := &config.Gateway{UpstreamBase: upstream.URL, BotKey: "botkey", Tokens: []string{"s3cr3t"}}
	dispatcher := NewDispatcher(cfg.UpstreamBase, cfg.BotKey)
	h := New(cfg, dispatcher, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"text","content":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/?token=s3cr3t", strings.NewReader(`{"type":"text","content":"hi"}`))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("with valid token: got %d body %q", rec2.Code, rec2.Body.String())
	}
}
