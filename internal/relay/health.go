package relay

import (
	"fmt"
	"net/http"
)

// handleHC implements GET /hc (spec.md §4.2.6).
func (h *Handler) handleHC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		emptyNotFound(w, r)
		return
	}

	counters, err := h.actor.HC()
	if err != nil {
		h.logger.Error("hc failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	objects, err := h.store.List(r.Context(), "obj/")
	objectCount := 0
	var objectBytes int64
	if err == nil {
		objectCount = len(objects)
		for _, o := range objects {
			objectBytes += o.Size
		}
	} else {
		h.logger.Warn("hc: store list failed", "err", err)
	}

	if isBrowser(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!doctype html><title>health</title>
<ul>
<li>hcCount: %d</li>
<li>pendingTokens: %d</li>
<li>pendingBytes: %d</li>
<li>storeObjects: %d</li>
<li>storeBytes: %d</li>
</ul>`, counters.HCCount, counters.PendingTokens, counters.PendingBytes, objectCount, objectBytes)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hcCount":       counters.HCCount,
		"pendingTokens": counters.PendingTokens,
		"pendingBytes":  counters.PendingBytes,
		"storeObjects":  objectCount,
		"storeBytes":    objectBytes,
	})
}
