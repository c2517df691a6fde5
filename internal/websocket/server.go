// Package websocket broadcasts call events to browser listeners.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yegors/co-call/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	defaultBufferSize = 64
)

// Message types sent to listeners
const (
	TypeTranscriptUpdate = "transcript_update"
	TypeCallStatus       = "call_status"
	TypeAnswerRecorded   = "answer_recorded"
)

// Message is a single event sent to every listener
type Message struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Server keeps the set of connected listeners. Broadcast never blocks: a
// listener whose buffer is full misses the message.
type Server struct {
	upgrader   websocket.Upgrader
	bufferSize int
	logger     *logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewServer creates a listener hub. bufferSize is the per-listener queue length.
func NewServer(bufferSize int, log *logger.Logger) *Server {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bufferSize: bufferSize,
		logger:     log.Named("websocket"),
		clients:    make(map[string]*client),
	}
}

// HandleWebSocket upgrades the request and serves the listener until it disconnects
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade listener connection", logger.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.bufferSize),
		done: make(chan struct{}),
	}

	s.register(c)
	defer s.unregister(c)

	go s.writeLoop(c)
	s.readLoop(c)
}

// Broadcast queues msg for every listener
func (s *Server) Broadcast(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal broadcast message",
			logger.String("type", msg.Type),
			logger.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			s.logger.Warn("Listener buffer full, dropping message",
				logger.String("client_id", c.id),
				logger.String("type", msg.Type))
		}
	}
}

// ClientCount returns the number of connected listeners
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every listener
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("Listener connected",
		logger.String("client_id", c.id),
		logger.Int("clients", count))
}

func (s *Server) unregister(c *client) {
	c.close()

	s.mu.Lock()
	delete(s.clients, c.id)
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("Listener disconnected",
		logger.String("client_id", c.id),
		logger.Int("clients", count))
}

// readLoop discards inbound frames; it exists to observe pongs and disconnects
func (s *Server) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Listener read error",
					logger.String("client_id", c.id),
					logger.Error(err))
			}
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
