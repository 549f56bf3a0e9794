package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/zynqcloud/oneshot/internal/config"
	"github.com/zynqcloud/oneshot/internal/middleware"
)

// Metrics are the gateway's in-process counters, mirrored onto the
// Prometheus registry MetricsHandler exposes.
type Metrics struct {
	DispatchTotal  atomic.Int64
	DispatchFailed atomic.Int64
	Unauthorized   atomic.Int64
}

// Handler wires the Request Normalizer, Payload Builder, and Upstream
// Dispatcher behind a single POST / endpoint.
type Handler struct {
	cfg        *config.Gateway
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *Metrics

	mux http.Handler
}

// New builds the gateway's HTTP surface.
func New(cfg *config.Gateway, dispatcher *Dispatcher, logger *slog.Logger) *Handler {
	h := &Handler{cfg: cfg, dispatcher: dispatcher, logger: logger, metrics: &Metrics{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleDispatch)

	h.mux = middleware.RequestLog(logger)(mux)
	return h
}

// ServeHTTP makes Handler itself usable as http.Server's Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// dispatchResult is the structured JSON body spec.md §4.4 requires.
type dispatchResult struct {
	OK             bool   `json:"ok"`
	UpstreamStatus int    `json:"upstream_status"`
	Errcode        int    `json:"errcode"`
	Errmsg         string `json:"errmsg"`

	MediaID       string `json:"media_id,omitempty"`
	UploadStatus  int    `json:"upload_status,omitempty"`
	UploadErrcode int    `json:"upload_errcode,omitempty"`
	UploadErrmsg  string `json:"upload_errmsg,omitempty"`
	SendStatus    int    `json:"send_status,omitempty"`
	SendErrcode   int    `json:"send_errcode,omitempty"`
	SendErrmsg    string `json:"send_errmsg,omitempty"`
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	if err := CheckToken(r, h.cfg.Tokens); err != nil {
		h.metrics.Unauthorized.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	h.metrics.DispatchTotal.Add(1)

	msg, err := Normalize(r)
	if err != nil {
		h.metrics.DispatchFailed.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	env, needsUpload, err := Build(msg)
	if err != nil {
		h.metrics.DispatchFailed.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !needsUpload {
		res, err := h.dispatcher.Send(r.Context(), env)
		if err != nil {
			h.logger.Error("upstream send failed", "err", err)
		}
		status := http.StatusOK
		if !res.Ok() {
			status = http.StatusBadGateway
			h.metrics.DispatchFailed.Add(1)
		}
		writeJSON(w, status, dispatchResult{
			OK:             res.Ok(),
			UpstreamStatus: res.UpstreamStatus,
			Errcode:        res.Errcode,
			Errmsg:         res.Errmsg,
		})
		return
	}

	h.dispatchTwoStep(w, r, msg, env)
}

// dispatchTwoStep implements spec.md §4.4 and §9's "two-step upload+send":
// upload obtains a media_id, then a normal send carries it. Failure of
// either leg yields HTTP 502.
func (h *Handler) dispatchTwoStep(w http.ResponseWriter, r *http.Request, msg Message, env Envelope) {
	upload, err := h.dispatcher.UploadMedia(r.Context(), *msg.UploadFile)
	if errors.Is(err, ErrValidation) {
		h.metrics.DispatchFailed.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("upstream upload failed", "err", err)
	}
	result := dispatchResult{
		UploadStatus:  upload.UpstreamStatus,
		UploadErrcode: upload.Errcode,
		UploadErrmsg:  upload.Errmsg,
		MediaID:       upload.MediaID,
	}
	if !upload.Ok() {
		h.metrics.DispatchFailed.Add(1)
		writeJSON(w, http.StatusBadGateway, result)
		return
	}

	FillMediaID(env, msg.Kind, upload.MediaID)

	send, err := h.dispatcher.Send(r.Context(), env)
	if err != nil {
		h.logger.Error("upstream send failed", "err", err)
	}
	result.SendStatus = send.UpstreamStatus
	result.SendErrcode = send.Errcode
	result.SendErrmsg = send.Errmsg
	result.OK = send.Ok()
	result.UpstreamStatus = send.UpstreamStatus
	result.Errcode = send.Errcode
	result.Errmsg = send.Errmsg

	status := http.StatusOK
	if !send.Ok() {
		status = http.StatusBadGateway
		h.metrics.DispatchFailed.Add(1)
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
