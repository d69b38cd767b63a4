package websocket

import (
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"learnkit/core"
	"learnkit/realtime"
)

const writeWait = 5 * time.Second

// Handler returns an http.Handler that upgrades to WebSocket and streams events from the hub.
// The optional ?user= query narrows the stream to one learner and ?types= to a
// comma separated list of event types.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := filterFromQuery(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(256, filter)
		defer hub.Unsubscribe(id)

		// the read loop only exists to notice the client going away
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			}
		}
	})
}

func filterFromQuery(r *http.Request) realtime.Filter {
	var filters []realtime.Filter
	if u := strings.TrimSpace(r.URL.Query().Get("user")); u != "" {
		if id, err := core.NormalizeUserID(core.UserID(u)); err == nil {
			filters = append(filters, realtime.ForUser(id))
		}
	}
	if ts := r.URL.Query().Get("types"); ts != "" {
		var types []core.EventType
		for _, t := range strings.Split(ts, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, core.EventType(t))
			}
		}
		filters = append(filters, realtime.OfTypes(types...))
	}
	if len(filters) == 0 {
		return nil
	}
	return func(ev core.Event) bool {
		for _, f := range filters {
			if !f(ev) {
				return false
			}
		}
		return true
	}
}
