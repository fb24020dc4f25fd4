package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/perplexdev/perplex/internal/analysis"
	"github.com/perplexdev/perplex/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSRequest struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type WSProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type wsConn struct {
	conn *websocket.Conn
	srv  *Server
	send chan []byte
	// stop is closed when writePump exits, so a relay mid-analysis fails
	// fast instead of blocking on a buffer nobody drains.
	stop     chan struct{}
	stopOnce sync.Once
	log      *logger.Logger
}

// WebSocketHandler streams analysis messages over a socket. The client sends
// {"type":"analyze","text":...} or {"type":"tokenize","text":...}; progress
// and the terminal result come back as they are produced.
func WebSocketHandler(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Log.Warn("websocket upgrade failed", "error", err.Error())
			return
		}

		client := &wsConn{
			conn: conn,
			srv:  srv,
			send: make(chan []byte, 256),
			stop: make(chan struct{}),
			log:  logger.Log.With("websocket"),
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.send)
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "error", err.Error())
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError("invalid JSON")
			continue
		}
		c.handleRequest(req)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.stopOnce.Do(func() { close(c.stop) })
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) handleRequest(req WSRequest) {
	switch req.Type {
	case "analyze":
		c.handleAnalyze(req.Text)
	case "tokenize":
		count, err := c.srv.Tokenize(req.Text)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendMessage(WSMessage{Type: "count", Payload: map[string]int{"count": count}})
	default:
		c.sendError("unknown request type: " + req.Type)
	}
}

func (c *wsConn) handleAnalyze(text string) {
	if text == "" {
		c.sendError("text is required")
		return
	}
	err := c.srv.AnalyzeStream(text, func(msg analysis.Message) error {
		switch msg.Kind {
		case analysis.MsgStarted:
			return c.sendMessage(WSMessage{Type: "started"})
		case analysis.MsgProgress:
			return c.sendMessage(WSMessage{
				Type:    "progress",
				Payload: WSProgress{Current: msg.Current, Total: msg.Total},
			})
		case analysis.MsgCompleted:
			return c.sendMessage(WSMessage{
				Type:    "completed",
				Payload: buildAnalyzeResponse(msg.Result),
			})
		}
		return nil
	})
	if err != nil {
		c.sendError(err.Error())
	}
}

func (c *wsConn) sendMessage(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.stop:
		return errors.New("connection closed")
	}
}

func (c *wsConn) sendError(message string) {
	c.sendMessage(WSMessage{Type: "error", Payload: map[string]string{"message": message}})
}
