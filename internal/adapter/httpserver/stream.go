package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/observability"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// streamFrame is the JSON payload of one server-sent event.
type streamFrame struct {
	State     string                 `json:"state"`
	Result    *domain.OptimizeResult `json:"result,omitempty"`
	Error     *domain.JobError       `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// StreamHandler pushes job state transitions over a server-sent event
// stream. The first frame is the current snapshot; the stream closes after
// the terminal frame, on eviction, on overflow, or on client disconnect.
// A disconnecting client never cancels the underlying job.
func (s *Server) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeErrorKind(w, http.StatusInternalServerError, domain.KindRuntime, "streaming unsupported by connection")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sub, err := s.Results.Watch(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Unknown id still yields a valid stream: one frame, then close.
				w.WriteHeader(http.StatusOK)
				writeFrame(w, flusher, streamFrame{
					State:     "unknown",
					Error:     domain.NewJobError(domain.KindUnknownJob, fmt.Sprintf("no job with id %s", id)),
					Timestamp: time.Now().UTC(),
				})
				return
			}
			writeError(w, r, err)
			return
		}
		defer sub.Cancel()

		observability.StreamsActive.Inc()
		defer observability.StreamsActive.Dec()
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(s.Cfg.StreamKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, open := <-sub.Events():
				if !open {
					return
				}
				if ev.Overflow {
					observability.StreamOverflowsTotal.Inc()
				}
				frame, last := eventFrame(ev)
				if !writeFrame(w, flusher, frame) || last {
					return
				}
			}
		}
	}
}

// eventFrame maps one store event onto its wire frame and reports whether
// the stream closes after sending it. Overflow and eviction use dedicated
// control states, like "unknown" for absent ids; job-error kinds stay
// reserved for job outcomes.
func eventFrame(ev domain.JobEvent) (streamFrame, bool) {
	now := time.Now().UTC()
	switch {
	case ev.Overflow:
		return streamFrame{State: "overflow", Timestamp: now}, true
	case ev.Gone:
		return streamFrame{
			State:     "unknown",
			Error:     domain.NewJobError(domain.KindUnknownJob, "job record evicted"),
			Timestamp: now,
		}, true
	default:
		return streamFrame{
			State:     string(ev.Job.State),
			Result:    ev.Job.Result,
			Error:     ev.Job.Error,
			Timestamp: now,
		}, ev.Job.State.Terminal()
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
