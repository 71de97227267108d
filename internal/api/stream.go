package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamRun handles GET /agent/runs/{id}/ws: a websocket that pushes step
// events while the run executes and closes once it reaches a terminal state.
func (h *Handler) StreamRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	events, cancel := h.store.Subscribe(id)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reader loop only to detect the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
