package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"mafiaserver/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	sendQueueSize = 256
	maxStrikes    = 5 // malformed envelopes tolerated before forced close
)

// Client is one websocket connection. The read loop runs in
// Handler.HandleConnections; the write pump is the only goroutine writing to
// the underlying connection.
type Client struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	limiter *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// userID is written once by the read loop on successful authentication
	// and read from broadcast goroutines, so access goes through mu.
	mu      sync.Mutex
	userID  string
	strikes int
}

func (c *Client) setUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

func (c *Client) uid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue hands a pre-marshaled frame to the write pump. A full queue means
// the client cannot keep up; it is closed rather than allowed to stall the
// room broadcast.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send queue overflow, closing client", zap.String("userID", c.uid()))
		c.CloseNow()
		return false
	}
}

// Send marshals an unsequenced envelope and enqueues it.
func (c *Client) Send(messageType string, payload interface{}) bool {
	return c.sendSeq(messageType, 0, payload)
}

func (c *Client) sendSeq(messageType string, seq uint64, payload interface{}) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal outbound payload", zap.Error(err))
		return false
	}
	frame, err := json.Marshal(models.Envelope{Type: messageType, Seq: seq, Payload: raw})
	if err != nil {
		return false
	}
	return c.Enqueue(frame)
}

func (c *Client) sendError(code, message string) {
	c.Send(models.MsgError, models.ErrorPayload{Code: code, Message: message})
}

// CloseNow terminates the connection; the read loop unwinds on the closed
// socket and performs the registry/room cleanup.
func (c *Client) CloseNow() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings. It owns all writes to the socket.
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.CloseNow()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever is already queued before closing.
			for {
				select {
				case data := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if c.conn.WriteMessage(websocket.TextMessage, data) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
