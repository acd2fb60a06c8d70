package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parlorchat/parlor/internal/types"
)

const (
	// maxMessagesPerRoom bounds a room's retained history.
	maxMessagesPerRoom = 500
	// evictBatchSize is how many of the oldest messages are dropped in one
	// batch once the bound is exceeded. Amortized trim, not a sliding window.
	evictBatchSize = 50
)

// roomState is the persisted form of a single room.
type roomState struct {
	CreatedAt    time.Time       `json:"created_at"`
	PasswordHash string          `json:"password_hash,omitempty"`
	Messages     []types.Message `json:"messages"`
}

// FileRoomStore keeps all rooms in memory and snapshots them wholesale to a
// single JSON document after every mutation. Last snapshot wins on restart.
type FileRoomStore struct {
	log    *log.Logger
	mu     sync.RWMutex
	rooms  map[string]*roomState
	writer *snapshotWriter
	// newId assigns message ids. Overridable in tests.
	newId func() string
}

func NewFileRoomStore(path string, logger *log.Logger) (*FileRoomStore, error) {
	rs := &FileRoomStore{
		log:   logger,
		rooms: make(map[string]*roomState),
		newId: uuid.NewString,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &rs.rooms); err != nil {
			logger.Printf("corrupt room snapshot %s, starting empty: %v", path, err)
			rs.rooms = make(map[string]*roomState)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	rs.writer = newSnapshotWriter(path, logger, rs.marshalSnapshot)
	return rs, nil
}

func (rs *FileRoomStore) marshalSnapshot() ([]byte, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return json.MarshalIndent(rs.rooms, "", "  ")
}

// hashPassword returns the hex SHA-256 digest of pw, or the empty string
// for an empty password. An open room never stores a digest.
func hashPassword(pw string) string {
	if pw == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(sum[:])
}

func (rs *FileRoomStore) ListRooms() []types.RoomInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	list := make([]types.RoomInfo, 0, len(rs.rooms))
	for name, room := range rs.rooms {
		list = append(list, types.RoomInfo{
			Name:         name,
			CreatedAt:    room.CreatedAt,
			HasPassword:  room.PasswordHash != "",
			MessageCount: len(room.Messages),
		})
	}

	return list
}

func (rs *FileRoomStore) CreateRoom(name, password string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidRoomName
	}

	rs.mu.Lock()
	if _, ok := rs.rooms[name]; ok {
		rs.mu.Unlock()
		return ErrRoomExists
	}

	rs.rooms[name] = &roomState{
		CreatedAt:    time.Now().UTC(),
		PasswordHash: hashPassword(password),
	}
	rs.mu.Unlock()

	// Room creation is acknowledged only after the snapshot is on disk.
	rs.writer.write()
	return nil
}

func (rs *FileRoomStore) JoinRoom(name, password string, admin bool) (JoinResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return JoinResult{}, ErrInvalidRoomName
	}

	rs.mu.Lock()
	room, ok := rs.rooms[name]
	if !ok {
		// First joiner creates the room; their password becomes the
		// room's permanent secret.
		room = &roomState{
			CreatedAt:    time.Now().UTC(),
			PasswordHash: hashPassword(password),
		}
		rs.rooms[name] = room
		res := JoinResult{
			HasPassword: room.PasswordHash != "",
			Created:     true,
		}
		rs.mu.Unlock()

		rs.writer.write()
		return res, nil
	}

	if room.PasswordHash != "" && !admin && hashPassword(password) != room.PasswordHash {
		rs.mu.Unlock()
		return JoinResult{}, ErrWrongPassword
	}

	res := JoinResult{
		Messages:    slices.Clone(room.Messages),
		HasPassword: room.PasswordHash != "",
	}
	rs.mu.Unlock()

	return res, nil
}

func (rs *FileRoomStore) AppendMessage(roomName string, msg types.Message) (types.Message, error) {
	rs.mu.Lock()
	room, ok := rs.rooms[roomName]
	if !ok {
		rs.mu.Unlock()
		return types.Message{}, ErrRoomNotFound
	}

	msg.Id = rs.newId()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC().Round(time.Millisecond)
	}

	room.Messages = append(room.Messages, msg)
	if len(room.Messages) > maxMessagesPerRoom {
		room.Messages = append([]types.Message(nil), room.Messages[evictBatchSize:]...)
	}
	rs.mu.Unlock()

	rs.writer.schedule()
	return msg, nil
}

func (rs *FileRoomStore) DeleteMessage(roomName, id string) error {
	rs.mu.Lock()
	room, ok := rs.rooms[roomName]
	if !ok {
		rs.mu.Unlock()
		return ErrRoomNotFound
	}

	idx := slices.IndexFunc(room.Messages, func(m types.Message) bool { return m.Id == id })
	if idx == -1 {
		rs.mu.Unlock()
		return ErrMessageNotFound
	}

	room.Messages = slices.Delete(room.Messages, idx, idx+1)
	rs.mu.Unlock()

	rs.writer.schedule()
	return nil
}

func (rs *FileRoomStore) DeleteRoom(name string) error {
	rs.mu.Lock()
	if _, ok := rs.rooms[name]; !ok {
		rs.mu.Unlock()
		return ErrRoomNotFound
	}

	delete(rs.rooms, name)
	rs.mu.Unlock()

	rs.writer.schedule()
	return nil
}

func (rs *FileRoomStore) HasMessage(roomName, id string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	room, ok := rs.rooms[roomName]
	if !ok {
		return false
	}

	return slices.ContainsFunc(room.Messages, func(m types.Message) bool { return m.Id == id })
}

func (rs *FileRoomStore) Close() error {
	rs.writer.close()
	return nil
}
