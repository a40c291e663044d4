package framing

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// wsSource treats every WebSocket data message as one chunk of the stream.
// Message boundaries carry no meaning; frames may span several messages.
type wsSource struct {
	conn *websocket.Conn
}

// NewWebSocketSource returns a Source fed by the data messages of conn.
// A normal or going-away close from the peer ends the stream with io.EOF.
func NewWebSocketSource(conn *websocket.Conn) Source {
	return &wsSource{conn: conn}
}

func (s *wsSource) Next() ([]byte, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if len(data) > 0 {
			return data, nil
		}
	}
}

func (s *wsSource) Close() error {
	return s.conn.Close()
}

func (s *wsSource) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}
