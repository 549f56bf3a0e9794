package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// maxUploadBytes enforces spec.md §4.4's "5B < size ≤ 20MB" file bound.
const (
	minUploadBytes = 5
	maxUploadBytes = 20 << 20
)

// upstreamResult is the shape every upstream call is reduced to: transport
// failure or a JSON body carrying {errcode, errmsg}.
type upstreamResult struct {
	Status  int
	Errcode int
	Errmsg  string
	raw     json.RawMessage
}

// Dispatcher performs the Upstream Dispatcher's one-step send and two-step
// upload+send calls (spec.md §4.4).
type Dispatcher struct {
	client *http.Client
	base   string
	botKey string
}

// NewDispatcher builds a Dispatcher against the configured upstream base URL
// and bot key.
func NewDispatcher(base, botKey string) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: 15 * time.Second},
		base:   base,
		botKey: botKey,
	}
}

// Send posts the envelope to the upstream send endpoint.
func (d *Dispatcher) Send(ctx context.Context, env Envelope) (SendResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode envelope: %w", err)
	}

	url := fmt.Sprintf("%s/webhook/send?key=%s", d.base, d.botKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.do(req)
	return SendResult{UpstreamStatus: res.Status, Errcode: res.Errcode, Errmsg: res.Errmsg}, err
}

// SendResult is the single-step half of spec.md §4.4's dispatch result.
type SendResult struct {
	UpstreamStatus int
	Errcode        int
	Errmsg         string
}

// Ok reports success per spec.md §6: "HTTP 2xx and errcode == 0 when
// errcode is present".
func (r SendResult) Ok() bool {
	return r.UpstreamStatus >= 200 && r.UpstreamStatus < 300 && r.Errcode == 0
}

// UploadResult is the upload half of the two-step dispatch.
type UploadResult struct {
	UpstreamStatus int
	Errcode        int
	Errmsg         string
	MediaID        string
}

func (r UploadResult) Ok() bool {
	return r.UpstreamStatus >= 200 && r.UpstreamStatus < 300 && r.Errcode == 0
}

// UploadMedia performs the upload leg of a two-step dispatch (spec.md
// §4.4): a multipart body with a single part named "media", boundary form
// "----<prefix><16 random hex chars>", assembled exactly once into memory so
// Content-Length is accurate for upstreams that require it.
func (d *Dispatcher) UploadMedia(ctx context.Context, file UploadFile) (UploadResult, error) {
	size := int64(len(file.Data))
	if size <= minUploadBytes || size > maxUploadBytes {
		return UploadResult{}, validationErrorf("upload size %d out of bounds (%d,%d]", size, minUploadBytes, maxUploadBytes)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(newBoundary()); err != nil {
		return UploadResult{}, fmt.Errorf("set boundary: %w", err)
	}
	part, err := mw.CreatePart(multipartHeader(file))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return UploadResult{}, fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/webhook/upload_media?key=%s&type=file", d.base, d.botKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = int64(buf.Len())

	res, err := d.do(req)
	out := UploadResult{UpstreamStatus: res.Status, Errcode: res.Errcode, Errmsg: res.Errmsg}
	if err == nil && res.raw != nil {
		var mediaBody struct {
			MediaID string `json:"media_id"`
		}
		json.Unmarshal(res.raw, &mediaBody) //nolint:errcheck
		out.MediaID = mediaBody.MediaID
	}
	return out, err
}

func multipartHeader(file UploadFile) map[string][]string {
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="media"; filename=%q`, file.Filename)},
		"Content-Type":        {ct},
	}
}

// newBoundary builds "----<prefix><16 random hex chars>" per spec.md §4.4.
func newBoundary() string {
	b := make([]byte, 8)
	rand.Read(b) //nolint:errcheck // crypto/rand failure is not recoverable here; a weak boundary is harmless
	return "----gw" + hex.EncodeToString(b)
}

// do executes req and reduces the response to an upstreamResult. A
// transport-level failure still returns a zero-value result alongside the
// error so callers can report upstream_status=0.
func (d *Dispatcher) do(req *http.Request) (upstreamResult, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return upstreamResult{}, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return upstreamResult{Status: resp.StatusCode}, fmt.Errorf("read upstream response: %w", err)
	}

	var envelope struct {
		Errcode int    `json:"errcode"`
		Errmsg  string `json:"errmsg"`
	}
	json.Unmarshal(body, &envelope) //nolint:errcheck // a non-JSON body just leaves errcode/errmsg zero

	return upstreamResult{
		Status:  resp.StatusCode,
		Errcode: envelope.Errcode,
		Errmsg:  envelope.Errmsg,
		raw:     body,
	}, nil
}
