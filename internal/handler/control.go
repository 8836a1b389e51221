package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/lucasew/blobpurge/internal/notify"
	"github.com/lucasew/blobpurge/internal/purge"
)

// Controller is the part of purge.Scheduler exposed over HTTP.
type Controller interface {
	Start(ctx context.Context, arg purge.Overrides) error
	Stop()
	Status() purge.Status
	Subscribe() *notify.Subscription[purge.Event]
}

// ControlHandler exposes start, stop, status and the event stream of the
// purge task:
//
//	POST /purge/start?storage-limit=BYTES&cpu-max=PERCENT
//	POST /purge/stop
//	GET  /purge/status
//	GET  /purge/events   (newline delimited JSON, one event per line)
type ControlHandler struct {
	Purge Controller
	mux   *http.ServeMux
}

func NewControlHandler(c Controller) *ControlHandler {
	h := &ControlHandler{Purge: c, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /purge/start", h.start)
	h.mux.HandleFunc("POST /purge/stop", h.stop)
	h.mux.HandleFunc("GET /purge/status", h.status)
	h.mux.HandleFunc("GET /purge/events", h.events)
	return h
}

func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *ControlHandler) start(w http.ResponseWriter, r *http.Request) {
	var arg purge.Overrides
	q := r.URL.Query()
	if v := q.Get("storage-limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid storage-limit: "+err.Error(), http.StatusBadRequest)
			return
		}
		arg.StorageLimit = n
	}
	if v := q.Get("cpu-max"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid cpu-max: "+err.Error(), http.StatusBadRequest)
			return
		}
		arg.CPUMax = f
	}

	if err := h.Purge.Start(r.Context(), arg); err != nil {
		slog.Error("Failed to start the purge task", "error", err)
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, purge.ErrConfiguration):
			code = http.StatusBadRequest
		case errors.Is(err, purge.ErrProbe):
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	h.writeStatus(w)
}

func (h *ControlHandler) stop(w http.ResponseWriter, r *http.Request) {
	h.Purge.Stop()
	h.writeStatus(w)
}

func (h *ControlHandler) status(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

func (h *ControlHandler) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	errutil.LogMsg(json.NewEncoder(w).Encode(h.Purge.Status()), "Failed to write status")
}

// events streams scheduler events until the client goes away.
func (h *ControlHandler) events(w http.ResponseWriter, r *http.Request) {
	sub := h.Purge.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				errutil.LogMsg(err, "Failed to write event")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
