package store

import (
	"errors"

	"github.com/parlorchat/parlor/internal/types"
)

var (
	ErrInvalidRoomName = errors.New("invalid room name")
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrWrongPassword   = errors.New("incorrect password")
	ErrDuplicateReport = errors.New("message already reported by this user")
	ErrReportNotFound  = errors.New("report not found")
)

// JoinResult is what a successful join returns to the coordinator: a
// snapshot of the room's history and whether the room is protected.
// Created reports whether the join created the room.
type JoinResult struct {
	Messages    []types.Message
	HasPassword bool
	Created     bool
}

// RoomStore is the authoritative mapping of room name to room state.
// Implementations must be safe for concurrent use.
type RoomStore interface {
	ListRooms() []types.RoomInfo
	CreateRoom(name, password string) error
	JoinRoom(name, password string, admin bool) (JoinResult, error)
	AppendMessage(room string, msg types.Message) (types.Message, error)
	DeleteMessage(room, id string) error
	DeleteRoom(name string) error
	HasMessage(room, id string) bool
	Close() error
}

// ReportStore tracks moderation reports keyed by (room, message id, reporter).
// Implementations must be safe for concurrent use.
type ReportStore interface {
	AddReport(room, id, reporter string) error
	RemoveReports(room, id string) error
	ReportedIds(room string) []string
	ListReports() []types.Report
	Close() error
}
