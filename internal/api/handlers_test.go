package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/eventlog"
	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/stats"
	"github.com/parlorchat/parlor/internal/store"
	"github.com/parlorchat/parlor/internal/testutil"
	"github.com/parlorchat/parlor/internal/types"
)

const testAdminSecret = "sekrit"

func newTestApp(t *testing.T, rooms store.RoomStore, reports store.ReportStore, events *eventlog.EventLogger) *ParlorApp {
	t.Helper()

	cfg, err := config.NewConfig("localhost:0", t.TempDir(), testAdminSecret, nil)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	return NewParlorApp(http.NewServeMux(), testutil.TestLogger(t), nil, rooms, reports, events, cfg)
}

func Test_listRooms(t *testing.T) {
	expected := []types.RoomInfo{
		{Name: "lobby", CreatedAt: time.Now().UTC(), HasPassword: false, MessageCount: 3},
		{Name: "vault", CreatedAt: time.Now().UTC(), HasPassword: true},
	}

	rooms := &store.MockRoomStore{}
	defer rooms.AssertExpectations(t)
	rooms.On("ListRooms").Return(expected).Once()

	app := newTestApp(t, rooms, nil, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	app.listRooms(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")

	var got []types.RoomInfo
	err := json.NewDecoder(rr.Body).Decode(&got)
	assert.NoError(t, err, "failed to decode response")
	assert.Len(t, got, 2, "expected both rooms")
	assert.Equal(t, "lobby", got[0].Name)
	assert.True(t, got[1].HasPassword, "expected the protected room to be flagged")
}

func Test_createRoom(t *testing.T) {
	tcases := []struct {
		name         string
		body         string
		mockErr      error
		mockExpected bool
		expectedCode int
		expectedBody string
	}{
		{
			name:         "successfully creates a room",
			body:         `{"name":"lobby"}`,
			mockExpected: true,
			expectedCode: http.StatusCreated,
			expectedBody: `{"ok":true,"room":"lobby"}`,
		},
		{
			name:         "malformed body",
			body:         `{not json`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"error":"Invalid room name"}`,
		},
		{
			name:         "invalid room name",
			body:         `{"name":"   "}`,
			mockErr:      store.ErrInvalidRoomName,
			mockExpected: true,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"error":"Invalid room name"}`,
		},
		{
			name:         "duplicate room",
			body:         `{"name":"lobby"}`,
			mockErr:      store.ErrRoomExists,
			mockExpected: true,
			expectedCode: http.StatusConflict,
			expectedBody: `{"error":"Room already exists"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rooms := &store.MockRoomStore{}
			defer rooms.AssertExpectations(t)
			if tc.mockExpected {
				rooms.On("CreateRoom", mock.Anything, mock.Anything).Return(tc.mockErr).Once()
			}

			app := newTestApp(t, rooms, nil, nil)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString(tc.body))
			app.createRoom(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code, "expected matching status code")
			assert.JSONEq(t, tc.expectedBody, rr.Body.String(), "expected matching response body")
		})
	}

	t.Run("store failure", func(t *testing.T) {
		rooms := &store.MockRoomStore{}
		rooms.On("CreateRoom", mock.Anything, mock.Anything).Return(errors.New("disk on fire")).Once()

		app := newTestApp(t, rooms, nil, nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString(`{"name":"lobby"}`))
		app.createRoom(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
	})

	t.Run("passes the password through", func(t *testing.T) {
		rooms := &store.MockRoomStore{}
		defer rooms.AssertExpectations(t)
		rooms.On("CreateRoom", "vault", "hunter2").Return(nil).Once()

		app := newTestApp(t, rooms, nil, nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms",
			bytes.NewBufferString(`{"name":"vault","password":"hunter2"}`))
		app.createRoom(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})
}

func Test_adminMiddleware(t *testing.T) {
	tcases := []struct {
		name         string
		header       string
		query        string
		expectedCode int
	}{
		{"no credentials", "", "", http.StatusForbidden},
		{"wrong header", "wrong", "", http.StatusForbidden},
		{"correct header", testAdminSecret, "", http.StatusOK},
		{"correct query parameter", "", testAdminSecret, http.StatusOK},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			reports := &store.MockReportStore{}
			if tc.expectedCode == http.StatusOK {
				reports.On("ListReports").Return([]types.Report{}).Once()
			}
			defer reports.AssertExpectations(t)

			app := newTestApp(t, nil, reports, nil)

			target := "/admin/reports"
			if tc.query != "" {
				target += "?pass=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("X-Admin-Pass", tc.header)
			}

			rr := httptest.NewRecorder()
			app.adminMiddleware(app.listReports)(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code, "expected matching status code")
		})
	}
}

func Test_listReports(t *testing.T) {
	expected := []types.Report{
		{Room: "lobby", Id: "m1", Reporter: "alice", Timestamp: time.Now().UTC()},
	}

	reports := &store.MockReportStore{}
	defer reports.AssertExpectations(t)
	reports.On("ListReports").Return(expected).Once()

	app := newTestApp(t, nil, reports, nil)

	rr := httptest.NewRecorder()
	app.listReports(rr, httptest.NewRequest(http.MethodGet, "/admin/reports", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []types.Report
	err := json.NewDecoder(rr.Body).Decode(&got)
	assert.NoError(t, err, "failed to decode response")
	assert.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Id)
}

func Test_logEndpoints(t *testing.T) {
	dir := t.TempDir()
	events, err := eventlog.New(filepath.Join(dir, "logs"), testutil.TestLogger(t))
	if err != nil {
		t.Fatalf("failed to create event logger: %v", err)
	}
	events.Log("room_created", map[string]any{"room": "lobby"})

	app := newTestApp(t, nil, nil, events)

	t.Run("lists log files", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.listLogs(rr, httptest.NewRequest(http.MethodGet, "/admin/loglist", nil))

		assert.Equal(t, http.StatusOK, rr.Code)

		var files []string
		err := json.NewDecoder(rr.Body).Decode(&files)
		assert.NoError(t, err, "failed to decode response")
		assert.Len(t, files, 1, "expected one daily log file")
		assert.True(t, strings.HasSuffix(files[0], ".log"), "expected a .log file name")
	})

	t.Run("downloads a log file", func(t *testing.T) {
		files, err := events.ListFiles()
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		app.downloadLog(rr, httptest.NewRequest(http.MethodGet, "/admin/logs?file="+files[0], nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment", "expected a download response")
		assert.Contains(t, rr.Body.String(), `"room_created"`, "expected the logged event in the body")
	})

	t.Run("missing file parameter", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.downloadLog(rr, httptest.NewRequest(http.MethodGet, "/admin/logs", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown file", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.downloadLog(rr, httptest.NewRequest(http.MethodGet, "/admin/logs?file=2020-01-01.log", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.downloadLog(rr, httptest.NewRequest(http.MethodGet, "/admin/logs?file=..%2F..%2Fetc%2Fpasswd", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

// readServerMessage reads the next websocket frame and decodes the envelope.
func readServerMessage(t *testing.T, conn *websocket.Conn) *server.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg server.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read server message: %v", err)
	}
	return &msg
}

// chatTestEnv is a live chat server with its real stores and a dialed
// websocket connection.
type chatTestEnv struct {
	rooms   *store.FileRoomStore
	reports *store.FileReportStore
	conn    *websocket.Conn
}

func newChatTestEnv(t *testing.T) *chatTestEnv {
	t.Helper()

	dir := t.TempDir()
	logger := testutil.TestLogger(t)

	rooms, err := store.NewFileRoomStore(filepath.Join(dir, "rooms.json"), logger)
	if err != nil {
		t.Fatalf("failed to create room store: %v", err)
	}
	t.Cleanup(func() { rooms.Close() })

	reports, err := store.NewFileReportStore(filepath.Join(dir, "reports.json"), logger)
	if err != nil {
		t.Fatalf("failed to create report store: %v", err)
	}
	t.Cleanup(func() { reports.Close() })

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := server.NewChatServer(logger, rooms, reports, su, nil, testAdminSecret)
	if err != nil {
		t.Fatalf("failed to create chat server: %v", err)
	}
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	cfg, err := config.NewConfig("localhost:0", dir, testAdminSecret, nil)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	app := NewParlorApp(http.NewServeMux(), logger, cs, rooms, reports, nil, cfg)

	srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	return &chatTestEnv{rooms: rooms, reports: reports, conn: conn}
}

func TestChatScenario(t *testing.T) {
	env := newChatTestEnv(t)
	conn, rooms, reports := env.conn, env.rooms, env.reports

	// Elevate the session.
	err := conn.WriteJSON(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 1},
		AdminLogin:  &server.AdminLogin{Secret: testAdminSecret},
	})
	assert.NoError(t, err)

	ack := readServerMessage(t, conn)
	assert.Equal(t, 1, ack.Id, "expected ack for the login request")
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected login to succeed")

	// Join a fresh room, creating it.
	err = conn.WriteJSON(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 2},
		Join:        &server.Join{Username: "mod", Room: "lobby"},
	})
	assert.NoError(t, err)

	ack = readServerMessage(t, conn)
	assert.Equal(t, 2, ack.Id, "expected ack for the join request")
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected join to succeed")
	assert.Equal(t, []any{}, ack.Response.Data["history"], "expected empty history in a fresh room")
	assert.Equal(t, false, ack.Response.Data["has_password"], "expected open room")
	assert.Equal(t, []any{}, ack.Response.Data["reported"], "expected no reported ids")

	note := readServerMessage(t, conn)
	assert.NotNil(t, note.System, "expected the joined notice")
	assert.Equal(t, "mod joined", note.System.Text)

	// Post a message.
	err = conn.WriteJSON(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 3},
		Publish:     &server.Publish{Message: "hello"},
	})
	assert.NoError(t, err)

	ack = readServerMessage(t, conn)
	assert.Equal(t, 3, ack.Id, "expected ack for the publish request")
	assert.Equal(t, http.StatusAccepted, ack.Response.ResponseCode, "expected publish to be accepted")

	post := readServerMessage(t, conn)
	if post.Message == nil {
		t.Fatal("expected the published message to be broadcast")
	}
	assert.Equal(t, "hello", post.Message.Message)
	assert.Equal(t, "mod", post.Message.Username)
	assert.NotEmpty(t, post.Message.Id, "expected a finalized message id")
	msgId := post.Message.Id

	// Report it.
	err = conn.WriteJSON(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 4},
		Report:      &server.Report{Room: "lobby", Id: msgId},
	})
	assert.NoError(t, err)

	note = readServerMessage(t, conn)
	if note.Notification == nil || note.Notification.MessageReported == nil {
		t.Fatalf("expected a reported notification, got %+v", note)
	}
	assert.Equal(t, msgId, note.Notification.MessageReported.Id)

	ack = readServerMessage(t, conn)
	assert.Equal(t, 4, ack.Id)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected report to succeed")

	// Delete it; the report entries go with it.
	err = conn.WriteJSON(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 5},
		Delete:      &server.Delete{Room: "lobby", Id: msgId},
	})
	assert.NoError(t, err)

	note = readServerMessage(t, conn)
	if note.Notification == nil || note.Notification.MessageDeleted == nil {
		t.Fatalf("expected a deletion notification, got %+v", note)
	}
	assert.Equal(t, msgId, note.Notification.MessageDeleted.Id)

	note = readServerMessage(t, conn)
	if note.Notification == nil || note.Notification.ReportRemoved == nil {
		t.Fatalf("expected the cascaded report removal, got %+v", note)
	}
	assert.Equal(t, msgId, note.Notification.ReportRemoved.Id)

	ack = readServerMessage(t, conn)
	assert.Equal(t, 5, ack.Id)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected delete to succeed")

	assert.False(t, rooms.HasMessage("lobby", msgId), "expected the message removed from history")
	assert.Empty(t, reports.ListReports(), "expected the reports removed with the message")

	// A fresh join sees the emptied history.
	err = conn.WriteJSON(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 6},
		Join:        &server.Join{Username: "mod", Room: "lobby"},
	})
	assert.NoError(t, err)

	ack = readServerMessage(t, conn)
	assert.Equal(t, 6, ack.Id)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected rejoin to succeed")
	assert.Equal(t, []any{}, ack.Response.Data["history"], "expected history to be empty after the delete")
	assert.Equal(t, []any{}, ack.Response.Data["reported"], "expected no reported ids after the cascade")
}

func TestChatThrottling(t *testing.T) {
	t.Run("second message inside the window is rejected", func(t *testing.T) {
		env := newChatTestEnv(t)
		conn := env.conn

		err := conn.WriteJSON(&server.ClientMessage{
			BaseMessage: server.BaseMessage{Id: 1},
			Join:        &server.Join{Username: "alice", Room: "lobby"},
		})
		assert.NoError(t, err)

		ack := readServerMessage(t, conn)
		assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected join to succeed")
		note := readServerMessage(t, conn)
		assert.NotNil(t, note.System, "expected the joined notice")

		for id := 2; id <= 3; id++ {
			err = conn.WriteJSON(&server.ClientMessage{
				BaseMessage: server.BaseMessage{Id: id},
				Publish:     &server.Publish{Message: "hello"},
			})
			assert.NoError(t, err)
		}

		// The throttle ack comes from the read pump and the accept ack
		// from the coordinator, so arrival order is not fixed. Collect
		// and match by request id.
		acks := make(map[int]*server.Response)
		broadcasts := 0
		for i := 0; i < 3; i++ {
			msg := readServerMessage(t, conn)
			if msg.Message != nil {
				broadcasts++
				continue
			}
			acks[msg.Id] = msg.Response
		}

		assert.Equal(t, 1, broadcasts, "expected exactly one message to be broadcast")
		assert.Equal(t, http.StatusAccepted, acks[2].ResponseCode, "expected the first message to land")
		assert.Equal(t, http.StatusTooManyRequests, acks[3].ResponseCode,
			"expected the second message inside one second to be throttled")
		assert.Equal(t, "Slow down", acks[3].Error)

		assert.Equal(t, 1, env.rooms.ListRooms()[0].MessageCount,
			"expected the throttled message to never reach history")
	})

	t.Run("rapid failed admin logins hit the throttle", func(t *testing.T) {
		env := newChatTestEnv(t)
		conn := env.conn

		for id := 1; id <= 6; id++ {
			err := conn.WriteJSON(&server.ClientMessage{
				BaseMessage: server.BaseMessage{Id: id},
				AdminLogin:  &server.AdminLogin{Secret: "wrong"},
			})
			assert.NoError(t, err)
		}

		acks := make(map[int]*server.Response)
		for i := 0; i < 6; i++ {
			msg := readServerMessage(t, conn)
			acks[msg.Id] = msg.Response
		}

		for id := 1; id <= 5; id++ {
			assert.Equal(t, http.StatusUnauthorized, acks[id].ResponseCode,
				"expected attempt %d to fail authentication", id)
		}
		assert.Equal(t, http.StatusTooManyRequests, acks[6].ResponseCode,
			"expected the sixth rapid attempt to be throttled")
	})
}

func Test_serveWsRejectsDisallowedOrigin(t *testing.T) {
	cfg, err := config.NewConfig("localhost:0", t.TempDir(), testAdminSecret, []string{"http://ok.example"})
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	app := NewParlorApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, nil, nil, cfg)

	srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.example")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if conn != nil {
		conn.Close()
	}
	assert.Error(t, err, "expected the handshake to be rejected")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "expected a forbidden response")
}
