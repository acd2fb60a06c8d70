package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096

	// one chat message per rolling second per session
	chatBurst    = 1
	chatInterval = time.Second

	// admin login attempt throttle
	loginBurst    = 5
	loginInterval = time.Minute
)

// Client is the server-side session for one live connection. The exported
// pumps (Read, Write) run on their own goroutines; the session fields
// (identity, room, isAdmin) are owned by the coordinator goroutine and are
// only ever read or written there.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	stop       chan struct{}

	msgLimiter   *rateLimiter
	loginLimiter *rateLimiter

	// session state, coordinator-owned
	username string
	color    string
	avatar   string
	room     string
	isAdmin  bool
}

func NewClient(id string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:           id,
		conn:         conn,
		chatServer:   cs,
		log:          l,
		send:         make(chan *ServerMessage, 256),
		stop:         make(chan struct{}),
		msgLimiter:   newRateLimiter(chatBurst, chatInterval),
		loginLimiter: newRateLimiter(loginBurst, loginInterval),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("client %s: error parsing message: %v", c.id, err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		// Throttle before the message reaches the coordinator.
		if msg.Publish != nil && !c.msgLimiter.allow() {
			c.queueMessage(ErrTooManyRequests(msg.Id))
			continue
		}
		if msg.AdminLogin != nil && !c.loginLimiter.allow() {
			c.queueMessage(ErrTooManyRequests(msg.Id))
			continue
		}

		select {
		case c.chatServer.inbound <- &msg:
		default:
			c.log.Printf("client %s: inbound channel full", c.id)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	}
}

// queueMessage enqueues a message for the write pump, dropping it if the
// client's buffer is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("client %s: send channel full, dropping message", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.stopClient()
}
