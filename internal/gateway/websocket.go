package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgepilot/forgepilot/internal/eventbus"
)

// upgrader accepts connections from any origin: forgepilotd is meant to sit
// behind whatever UI calls it, not to police browser origins itself.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket answers `GET /ws`. A client joins rooms by sending a text
// frame `join-session <room>`; room must be either `project/<id>` or
// `project/<id>/<featureId>` (spec.md S4.8). The connection may be a member
// of any number of rooms at once, each relayed from its own eventbus
// subscription.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbox := make(chan eventbus.Event, eventbus.DefaultSubscriberBuffer)
	joined := make(map[string]struct{})

	go s.pumpOutbox(conn, outbox)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		room, ok := parseJoinCommand(string(data))
		if !ok {
			s.writeWSError(conn, "expected \"join-session <room>\"")
			continue
		}
		if !isValidRoom(room) {
			s.writeWSError(conn, "room must be project/<id> or project/<id>/<featureId>")
			continue
		}
		if _, already := joined[room]; already {
			continue
		}
		joined[room] = struct{}{}

		events, err := s.bus.Subscribe(ctx, roomTopic(room))
		if err != nil {
			s.writeWSError(conn, "failed to join room")
			delete(joined, room)
			continue
		}
		go relay(ctx, events, outbox)
	}
}

// relay forwards bus events for one room into the connection's shared
// outbox until ctx is cancelled or the bus closes the subscription.
func relay(ctx context.Context, events <-chan eventbus.Event, outbox chan<- eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			select {
			case outbox <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pumpOutbox is the connection's single writer goroutine: gorilla/websocket
// connections may not be written to concurrently from multiple goroutines,
// so every room's relay funnels through this one loop.
func (s *Server) pumpOutbox(conn *websocket.Conn, outbox <-chan eventbus.Event) {
	for event := range outbox {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
		if event.Kind == eventbus.KindResyncRequired {
			s.logger.Debug("told websocket client to resync", "topic", event.Topic)
		}
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(map[string]string{"error": message})
}

func parseJoinCommand(line string) (room string, ok bool) {
	const prefix = "join-session "
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	room = strings.TrimSpace(strings.TrimPrefix(line, prefix))
	return room, room != ""
}

// roomTopic maps a client-facing room name to the eventbus topic that
// actually carries its events. A two-part room (`project/<id>`) already
// coincides with ProjectTopic; a three-part session room (`project/<id>/
// <featureId>`) does not match the SessionTopic the SessionEngine publishes
// to (`session/<id>/<featureId>`), so it has to be translated before
// subscribing.
func roomTopic(room string) string {
	parts := strings.Split(room, "/")
	if len(parts) == 3 {
		return eventbus.SessionTopic(parts[1], parts[2])
	}
	return room
}

// isValidRoom enforces the two room shapes spec.md S4.8 allows: a
// project-wide feed, or one session's own feed.
func isValidRoom(room string) bool {
	parts := strings.Split(room, "/")
	switch len(parts) {
	case 2:
		return parts[0] == "project" && parts[1] != ""
	case 3:
		return parts[0] == "project" && parts[1] != "" && parts[2] != ""
	default:
		return false
	}
}
