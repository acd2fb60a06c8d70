package store

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parlorchat/parlor/internal/testutil"
	"github.com/parlorchat/parlor/internal/types"
)

// Synchronous persists (room creation) race the writer goroutine's
// scheduled snapshots for the same file. The snapshot on disk must stay a
// single complete document throughout, or a restart starts empty.
func TestSnapshotConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	logger := testutil.TestLogger(t)

	rs, err := NewFileRoomStore(path, logger)
	assert.NoError(t, err)

	assert.NoError(t, rs.CreateRoom("room-0", ""))

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, rs.CreateRoom("room-"+strconv.Itoa(n), ""))
		}(i)

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := rs.AppendMessage("room-0", types.Message{
					Username: "alice",
					Message:  strconv.Itoa(n*100 + j),
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	assert.NoError(t, rs.Close())

	reloaded, err := NewFileRoomStore(path, logger)
	assert.NoError(t, err, "expected a parseable snapshot after concurrent writes")
	defer reloaded.Close()

	rooms := reloaded.ListRooms()
	assert.Len(t, rooms, 9, "expected every room in the final snapshot")

	res, err := reloaded.JoinRoom("room-0", "", false)
	assert.NoError(t, err)
	assert.Len(t, res.Messages, 160, "expected the full history in the final snapshot")
}

func TestSnapshotLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.json")

	rs, err := NewFileRoomStore(path, testutil.TestLogger(t))
	assert.NoError(t, err)

	assert.NoError(t, rs.CreateRoom("lobby", ""))
	assert.NoError(t, rs.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err, "expected the snapshot file to exist")

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "expected the temp file to be renamed away")
}
