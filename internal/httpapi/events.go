package httpapi

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/eventbus"
)

const heartbeatInterval = 5 * time.Second

// handleEvents streams admin-visible events as server-sent-events.
// The first frame is an "init" snapshot; subsequent frames mirror
// eventbus broadcasts. A comment heartbeat is sent every 5 seconds of
// idle to keep intermediaries from closing the connection.
func (s *Server) handleEvents(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	snapshot := s.eventSnapshot(ctx)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }()

		// The stream writer runs after the handler returns, so the
		// subscription is owned here and ends when the client goes away.
		id, ch := s.bus.Subscribe()
		defer s.bus.Unsubscribe(id)

		writeFrame(w, eventbus.Event{Type: "init", Data: snapshot, Ts: time.Now().UnixMilli()})
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				writeFrame(w, evt)
				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

func writeFrame(w *bufio.Writer, evt eventbus.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	w.WriteString("data: ")
	w.Write(body)
	w.WriteString("\n\n")
}

type eventsSnapshot struct {
	Providers    int `json:"providers"`
	ActiveSubs   int `json:"active_subscribers"`
	CircuitsOpen int `json:"circuits_open"`
}

func (s *Server) eventSnapshot(ctx *fasthttp.RequestCtx) eventsSnapshot {
	recs, _ := s.catalog.List(ctx)
	open := 0
	for _, st := range s.breaker.All() {
		if st.State.String() == "open" {
			open++
		}
	}
	return eventsSnapshot{Providers: len(recs), ActiveSubs: s.bus.SubscriberCount(), CircuitsOpen: open}
}
