package server

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/parlorchat/parlor/internal/eventlog"
	"github.com/parlorchat/parlor/internal/stats"
	"github.com/parlorchat/parlor/internal/store"
	"github.com/parlorchat/parlor/internal/types"
)

const (
	activeConnectionsMetric = "ActiveConnections"
	messagesTotalMetric     = "MessagesTotal"
	reportsTotalMetric      = "ReportsTotal"
	roomsDeletedMetric      = "RoomsDeleted"
)

// ChatServer is the coordinator: a single goroutine that owns all session
// state (which client is in which room, admin elevation) and performs every
// store mutation triggered by socket events. Connection handlers talk to it
// exclusively through channels, so per-room history mutations are naturally
// serialized and append order equals broadcast order.
type ChatServer struct {
	log         *log.Logger
	rooms       store.RoomStore
	reports     store.ReportStore
	stats       stats.StatsProvider
	events      *eventlog.EventLogger
	adminSecret string

	clients map[*Client]struct{}
	members map[string]*Room

	RegisterChan   chan *Client
	deRegisterChan chan *Client
	inbound        chan *ClientMessage
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, rooms store.RoomStore, reports store.ReportStore,
	su stats.StatsProvider, events *eventlog.EventLogger, adminSecret string) (*ChatServer, error) {

	su.RegisterMetric(activeConnectionsMetric)
	su.RegisterMetric(messagesTotalMetric)
	su.RegisterMetric(reportsTotalMetric)
	su.RegisterMetric(roomsDeletedMetric)

	return &ChatServer{
		log:            logger,
		rooms:          rooms,
		reports:        reports,
		stats:          su,
		events:         events,
		adminSecret:    adminSecret,
		clients:        make(map[*Client]struct{}),
		members:        make(map[string]*Room),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		inbound:        make(chan *ClientMessage, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// RegisterClient hands a freshly upgraded connection to the coordinator.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.RegisterChan:
			cs.addClient(c)
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case msg := <-cs.inbound:
			cs.dispatch(msg)
		case <-cs.stop:
			for c := range cs.clients {
				c.stopClient()
			}
			close(cs.done)
			return
		}
	}
}

// Shutdown stops the run loop and all connected clients.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.log.Printf("adding connection %s", c.id)
	cs.clients[c] = struct{}{}
	cs.stats.Incr(activeConnectionsMetric)
}

// removeClient handles a disconnect: the leave notice to the session's
// room, then session teardown.
func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	cs.log.Printf("removing connection %s", c.id)
	if c.room != "" {
		room := c.room
		cs.leaveRoom(c, true)
		if c.username != "" {
			cs.logEvent("user_left", map[string]any{"room": room, "username": c.username})
		}
	}

	delete(cs.clients, c)
	cs.stats.Decr(activeConnectionsMetric)
}

// leaveRoom detaches c from its current room registry. With notice set, the
// remaining members are told the user left.
func (cs *ChatServer) leaveRoom(c *Client, notice bool) {
	room, ok := cs.members[c.room]
	if !ok {
		c.room = ""
		return
	}

	room.removeClient(c)
	if notice && c.username != "" {
		room.broadcast(SystemMessage(c.username + " left the chat"))
	}

	if room.empty() {
		delete(cs.members, room.name)
	}

	c.room = ""
}

func (cs *ChatServer) dispatch(msg *ClientMessage) {
	switch {
	case msg.AdminLogin != nil:
		cs.handleAdminLogin(msg)
	case msg.Join != nil:
		cs.handleJoin(msg)
	case msg.Publish != nil:
		cs.handlePublish(msg)
	case msg.Delete != nil:
		cs.handleDelete(msg)
	case msg.DeleteRoom != nil:
		cs.handleDeleteRoom(msg)
	case msg.Report != nil:
		cs.handleReport(msg)
	case msg.Unreport != nil:
		cs.handleUnreport(msg)
	case msg.Typing != nil:
		cs.handleTyping(msg)
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (cs *ChatServer) handleAdminLogin(msg *ClientMessage) {
	c := msg.client

	if !VerifyAdminSecret(cs.adminSecret, msg.AdminLogin.Secret) {
		c.queueMessage(ErrNotAuthorized(msg.Id))
		return
	}

	// Elevation is monotonic for the connection's lifetime.
	if !c.isAdmin {
		c.isAdmin = true
		cs.logEvent("admin_login", map[string]any{"client": c.id})
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (cs *ChatServer) handleJoin(msg *ClientMessage) {
	c := msg.client
	join := msg.Join

	username := strings.TrimSpace(join.Username)
	roomName := strings.TrimSpace(join.Room)
	if username == "" || roomName == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	res, err := cs.rooms.JoinRoom(roomName, join.Password, c.isAdmin)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWrongPassword):
			c.queueMessage(ErrIncorrectPassword(msg.Id))
		case errors.Is(err, store.ErrInvalidRoomName):
			c.queueMessage(ErrInvalidMessage(msg.Id))
		default:
			cs.log.Println("join room:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if res.Created {
		cs.logEvent("room_created", map[string]any{"room": roomName, "by": username})
	}

	// A session holds at most one room; joining again is an implicit
	// leave. No departure notice when rejoining the same room.
	if c.room != "" {
		cs.leaveRoom(c, c.room != roomName)
	}

	c.username = username
	c.color = join.Color
	c.avatar = join.Avatar
	c.room = roomName

	room, ok := cs.members[roomName]
	if !ok {
		room = newRoom(roomName)
		cs.members[roomName] = room
	}
	room.addClient(c)

	history := res.Messages
	if history == nil {
		history = []types.Message{}
	}
	reported := cs.reports.ReportedIds(roomName)
	if reported == nil {
		reported = []string{}
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"history":      history,
		"has_password": res.HasPassword,
		"reported":     reported,
	}))

	room.broadcast(SystemMessage(username + " joined"))
	cs.logEvent("user_joined", map[string]any{"room": roomName, "username": username})
}

func (cs *ChatServer) handlePublish(msg *ClientMessage) {
	c := msg.client
	pub := msg.Publish

	roomName := pub.Room
	if roomName == "" {
		roomName = c.room
	}

	username := pub.Username
	if username == "" {
		username = c.username
	}

	if roomName == "" || username == "" || strings.TrimSpace(pub.Message) == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	color := pub.Color
	if color == "" {
		color = c.color
	}
	avatar := pub.Avatar
	if avatar == "" {
		avatar = c.avatar
	}

	final, err := cs.rooms.AppendMessage(roomName, types.Message{
		Username:  username,
		Message:   pub.Message,
		Color:     color,
		Avatar:    avatar,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			cs.log.Println("append message:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if msg.Id != 0 {
		c.queueMessage(NoErrAccepted(msg.Id))
	}

	// Everyone in the room sees the finalized message, the sender included.
	if room, ok := cs.members[roomName]; ok {
		room.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: final.Timestamp},
			Message:     &final,
		})
	}

	cs.stats.Incr(messagesTotalMetric)
	cs.logEvent("message_posted", map[string]any{"room": roomName, "username": username, "text": final.Message})
}

func (cs *ChatServer) handleDelete(msg *ClientMessage) {
	c := msg.client

	if !c.isAdmin {
		c.queueMessage(ErrNotAuthorized(msg.Id))
		return
	}

	del := msg.Delete
	if err := cs.rooms.DeleteMessage(del.Room, del.Id); err != nil {
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			c.queueMessage(ErrRoomNotFound(msg.Id))
		case errors.Is(err, store.ErrMessageNotFound):
			c.queueMessage(ErrMessageNotFound(msg.Id))
		default:
			cs.log.Println("delete message:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	// Cascade: a deleted message takes its report entries with it.
	cascaded := cs.reports.RemoveReports(del.Room, del.Id) == nil

	if room, ok := cs.members[del.Room]; ok {
		room.broadcast(&ServerMessage{
			BaseMessage:  BaseMessage{Timestamp: Now()},
			Notification: &Notification{MessageDeleted: &MessageDeleted{Id: del.Id}},
		})
		if cascaded {
			room.broadcast(&ServerMessage{
				BaseMessage:  BaseMessage{Timestamp: Now()},
				Notification: &Notification{ReportRemoved: &ReportRemoved{Room: del.Room, Id: del.Id}},
			})
		}
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	cs.logEvent("message_deleted", map[string]any{"room": del.Room, "id": del.Id, "by": c.username})
}

func (cs *ChatServer) handleDeleteRoom(msg *ClientMessage) {
	c := msg.client

	if !c.isAdmin {
		c.queueMessage(ErrNotAuthorized(msg.Id))
		return
	}

	name := msg.DeleteRoom.Room
	if err := cs.rooms.DeleteRoom(name); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			cs.log.Println("delete room:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	// Room deletion is announced to every connected session, not just the
	// room's members, so clients can refresh their room lists.
	note := &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{RoomDeleted: &RoomDeleted{Room: name}},
	}
	for client := range cs.clients {
		client.queueMessage(note)
	}

	if room, ok := cs.members[name]; ok {
		for member := range room.clients {
			member.room = ""
		}
		delete(cs.members, name)
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	cs.stats.Incr(roomsDeletedMetric)
	cs.logEvent("room_deleted", map[string]any{"room": name, "by": c.username})
}

func (cs *ChatServer) handleReport(msg *ClientMessage) {
	c := msg.client
	rep := msg.Report

	reporter := rep.Reporter
	if reporter == "" {
		reporter = c.username
	}

	if rep.Room == "" || rep.Id == "" || reporter == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	// Reject phantom reports against ids that were never in history.
	if !cs.rooms.HasMessage(rep.Room, rep.Id) {
		c.queueMessage(ErrMessageNotFound(msg.Id))
		return
	}

	if err := cs.reports.AddReport(rep.Room, rep.Id, reporter); err != nil {
		if errors.Is(err, store.ErrDuplicateReport) {
			c.queueMessage(ErrAlreadyReported(msg.Id))
		} else {
			cs.log.Println("add report:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if room, ok := cs.members[rep.Room]; ok {
		room.broadcast(&ServerMessage{
			BaseMessage:  BaseMessage{Timestamp: Now()},
			Notification: &Notification{MessageReported: &MessageReported{Id: rep.Id}},
		})
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	cs.stats.Incr(reportsTotalMetric)
	cs.logEvent("message_reported", map[string]any{"room": rep.Room, "id": rep.Id, "by": reporter})
}

func (cs *ChatServer) handleUnreport(msg *ClientMessage) {
	c := msg.client

	if !c.isAdmin {
		c.queueMessage(ErrNotAuthorized(msg.Id))
		return
	}

	unrep := msg.Unreport
	if err := cs.reports.RemoveReports(unrep.Room, unrep.Id); err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			c.queueMessage(ErrReportNotFound(msg.Id))
		} else {
			cs.log.Println("remove reports:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if room, ok := cs.members[unrep.Room]; ok {
		room.broadcast(&ServerMessage{
			BaseMessage:  BaseMessage{Timestamp: Now()},
			Notification: &Notification{ReportRemoved: &ReportRemoved{Room: unrep.Room, Id: unrep.Id}},
		})
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	cs.logEvent("report_removed", map[string]any{"room": unrep.Room, "id": unrep.Id, "by": c.username})
}

// handleTyping relays the ephemeral typing signal to the other members of
// the room. Never persisted, never acked.
func (cs *ChatServer) handleTyping(msg *ClientMessage) {
	c := msg.client

	roomName := msg.Typing.Room
	if roomName == "" {
		roomName = c.room
	}
	if roomName == "" || c.username == "" {
		return
	}

	room, ok := cs.members[roomName]
	if !ok {
		return
	}

	room.broadcast(&ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{Typing: &UserTyping{Username: c.username}},
		SkipClient:   c,
	})
}

func (cs *ChatServer) logEvent(eventType string, fields map[string]any) {
	if cs.events == nil {
		return
	}

	cs.events.Log(eventType, fields)
}
