package server

import (
	"net/http"
	"time"

	"github.com/parlorchat/parlor/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for every client-to-server event. Exactly
// one of the operation fields is set. A non-zero Id requests an ack.
type ClientMessage struct {
	BaseMessage
	AdminLogin *AdminLogin `json:"admin_login,omitempty"`
	Join       *Join       `json:"join,omitempty"`
	Publish    *Publish    `json:"publish,omitempty"`
	Delete     *Delete     `json:"delete,omitempty"`
	DeleteRoom *DeleteRoom `json:"delete_room,omitempty"`
	Report     *Report     `json:"report,omitempty"`
	Unreport   *Unreport   `json:"unreport,omitempty"`
	Typing     *Typing     `json:"typing,omitempty"`
	client     *Client
}

type AdminLogin struct {
	Secret string `json:"secret"`
}

type Join struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Password string `json:"password,omitempty"`
	Color    string `json:"color,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type Publish struct {
	Room     string `json:"room"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type Delete struct {
	Room string `json:"room"`
	Id   string `json:"id"`
}

type DeleteRoom struct {
	Room string `json:"room"`
}

type Report struct {
	Room     string `json:"room"`
	Id       string `json:"id"`
	Reporter string `json:"reporter,omitempty"`
}

type Unreport struct {
	Room string `json:"room"`
	Id   string `json:"id"`
}

type Typing struct {
	Room string `json:"room"`
}

// ServerMessage is the envelope for every server-to-client event: an ack
// (Response), a chat message, a system notice, or a notification.
type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	System       *System        `json:"system,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type System struct {
	Text string `json:"text"`
}

type Notification struct {
	MessageDeleted  *MessageDeleted  `json:"message_deleted,omitempty"`
	MessageReported *MessageReported `json:"message_reported,omitempty"`
	ReportRemoved   *ReportRemoved   `json:"report_removed,omitempty"`
	RoomDeleted     *RoomDeleted     `json:"room_deleted,omitempty"`
	Typing          *UserTyping      `json:"typing,omitempty"`
}

type MessageDeleted struct {
	Id string `json:"id"`
}

type MessageReported struct {
	Id string `json:"id"`
}

type ReportRemoved struct {
	Room string `json:"room"`
	Id   string `json:"id"`
}

type RoomDeleted struct {
	Room string `json:"room"`
}

type UserTyping struct {
	Username string `json:"username"`
}

func response(id, code int, errText string, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errText,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int) *ServerMessage {
	return response(id, http.StatusAccepted, "", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "Missing fields", nil)
}

func ErrNotAuthorized(id int) *ServerMessage {
	return response(id, http.StatusUnauthorized, "Not authorized", nil)
}

func ErrIncorrectPassword(id int) *ServerMessage {
	return response(id, http.StatusUnauthorized, "Incorrect password", nil)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "Room not found", nil)
}

func ErrMessageNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "Message not found", nil)
}

func ErrReportNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "Report not found", nil)
}

func ErrAlreadyReported(id int) *ServerMessage {
	return response(id, http.StatusConflict, "You already reported this message", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return response(id, http.StatusTooManyRequests, "Slow down", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

// SystemMessage builds the room-scoped system notice, e.g. "alice joined".
func SystemMessage(text string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		System: &System{Text: text},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
