package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ideinfo/internal/eventbus"
	logx "ideinfo/pkg/logx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16 * 1024,
}

// Message is one WebSocket frame: "hello" carries a Payload, the others
// carry the bus event data.
type Message struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

var pushTopics = []string{
	eventbus.TopicWidgetChanged,
	eventbus.TopicVersionChanged,
	eventbus.TopicStatsUpdated,
	eventbus.TopicNotice,
}

func (s *Service) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		http.Error(w, "push unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	events, unsub := s.deps.Bus.Subscribe(64, pushTopics...)
	defer unsub()

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(r, conn, events, closed)
}

// readPump only consumes control frames and notices the peer going away.
func (s *Service) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", logx.Err(err))
			}
			return
		}
	}
}

func (s *Service) writePump(r *http.Request, conn *websocket.Conn, events <-chan eventbus.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	if err := s.send(conn, Message{Type: "hello", Time: time.Now(), Data: s.payload(r)}); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.send(conn, Message{Type: ev.Type, Time: ev.Time, Data: ev.Data}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Service) send(conn *websocket.Conn, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		s.log.Warn("websocket encode failed", logx.String("type", m.Type), logx.Err(err))
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
