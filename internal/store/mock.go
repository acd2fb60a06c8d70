package store

import (
	"github.com/stretchr/testify/mock"

	"github.com/parlorchat/parlor/internal/types"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) ListRooms() []types.RoomInfo {
	args := m.Called()
	return args.Get(0).([]types.RoomInfo)
}
func (m *MockRoomStore) CreateRoom(name, password string) error {
	args := m.Called(name, password)
	return args.Error(0)
}
func (m *MockRoomStore) JoinRoom(name, password string, admin bool) (JoinResult, error) {
	args := m.Called(name, password, admin)
	return args.Get(0).(JoinResult), args.Error(1)
}
func (m *MockRoomStore) AppendMessage(room string, msg types.Message) (types.Message, error) {
	args := m.Called(room, msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRoomStore) DeleteMessage(room, id string) error {
	args := m.Called(room, id)
	return args.Error(0)
}
func (m *MockRoomStore) DeleteRoom(name string) error {
	args := m.Called(name)
	return args.Error(0)
}
func (m *MockRoomStore) HasMessage(room, id string) bool {
	args := m.Called(room, id)
	return args.Bool(0)
}
func (m *MockRoomStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) AddReport(room, id, reporter string) error {
	args := m.Called(room, id, reporter)
	return args.Error(0)
}
func (m *MockReportStore) RemoveReports(room, id string) error {
	args := m.Called(room, id)
	return args.Error(0)
}
func (m *MockReportStore) ReportedIds(room string) []string {
	args := m.Called(room)
	if ids, ok := args.Get(0).([]string); ok {
		return ids
	}
	return nil
}
func (m *MockReportStore) ListReports() []types.Report {
	args := m.Called()
	return args.Get(0).([]types.Report)
}
func (m *MockReportStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
