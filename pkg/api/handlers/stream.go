package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"commshub/pkg/logger"
	"commshub/pkg/utils"

	"github.com/gorilla/mux"
)

// heartbeatEvery paces SSE keepalive comments so intermediaries do not
// reap idle connections.
const heartbeatEvery = 15 * time.Second

// RegisterStream registers the live thread event stream.
func RegisterStream(r *mux.Router) {
	r.HandleFunc("/threads/{id}/stream", streamThread).Methods(http.MethodGet)
}

// streamThread handles GET /threads/{id}/stream as Server-Sent Events.
// Each new message in the thread arrives as a "message" event. Delivery
// is at-least-once from subscription time onward; when the subscriber
// falls too far behind, the stream ends with a "lapsed" event and the
// client must reconnect and fetch the tail since its last merged
// message.
func streamThread(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, _, err := visibleThread(id, caller); err != nil {
		writeErr(w, err)
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := broker.Subscribe(id)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ready\ndata: {\"thread\":%q}\n\n", id)
	fl.Flush()

	logger.Info("stream_opened", "thread", id, "member", caller)
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("stream_closed", "thread", id, "member", caller)
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case ev, open := <-sub.Events():
			if !open {
				// Buffer overflowed; tell the client to resubscribe and
				// re-fetch the tail.
				fmt.Fprint(w, "event: lapsed\ndata: {\"reason\":\"subscription lapsed\"}\n\n")
				fl.Flush()
				logger.Warn("stream_lapsed", "thread", id, "member", caller)
				return
			}
			b, err := json.Marshal(ev.Message)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\nid: %s\ndata: %s\n\n", ev.Message.ID, b)
			fl.Flush()
		}
	}
}
