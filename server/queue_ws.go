package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/pulse/async"
)

// WebSocket timeouts, following the gorilla chat example
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096

	// MaxClients caps concurrent queue stream connections
	MaxClients = 100
)

// QueueMessage is one frame of the queue stream.
type QueueMessage struct {
	Type string     `json:"type"`
	Job  *async.Job `json:"job,omitempty"`
}

// queueClient is one /ws/queue connection. Clients only listen; anything
// they send is read and dropped so that pongs and close frames are seen.
type queueClient struct {
	id      string
	conn    *websocket.Conn
	updates chan *async.Job
	done    chan struct{}
	server  *Server
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// HandleQueueWebSocket streams every queue job change to the client.
func (s *Server) HandleQueueWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}

	s.mu.Lock()
	full := len(s.clients) >= MaxClients
	s.mu.Unlock()
	if full {
		writeError(w, http.StatusServiceUnavailable, "too many queue stream clients")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	c := &queueClient{
		id:      uuid.NewString(),
		conn:    conn,
		updates: s.queue.Subscribe(),
		done:    make(chan struct{}),
		server:  s,
	}
	s.register(c)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

func (s *Server) register(c *queueClient) {
	s.mu.Lock()
	s.clients[c] = true
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Infow("Queue stream client connected", "client_id", c.id, logger.FieldCount, total)
}

func (s *Server) unregister(c *queueClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()
	if ok {
		s.queue.Unsubscribe(c.updates)
		s.logger.Infow("Queue stream client disconnected", "client_id", c.id, logger.FieldCount, total)
	}
}

func (c *queueClient) readPump() {
	defer func() {
		close(c.done)
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("Queue stream read error", "client_id", c.id, logger.FieldError, err)
			}
			return
		}
	}
}

func (c *queueClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(QueueMessage{Type: "hello"}); err != nil {
		return
	}

	for {
		select {
		case <-c.done:
			return
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case job := <-c.updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(QueueMessage{Type: "job", Job: job}); err != nil {
				c.server.logger.Debugw("Queue stream write error", "client_id", c.id, logger.FieldError, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
