package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/store"
)

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

type CreateRoomResponse struct {
	Ok   bool   `json:"ok"`
	Room string `json:"room"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *ParlorApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

func (a *ParlorApp) listRooms(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, a.rooms.ListRooms())
}

func (a *ParlorApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJson(w, http.StatusBadRequest, errorResponse{Error: "Invalid room name"})
		return
	}

	if err := a.rooms.CreateRoom(req.Name, req.Password); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidRoomName):
			a.writeJson(w, http.StatusBadRequest, errorResponse{Error: "Invalid room name"})
		case errors.Is(err, store.ErrRoomExists):
			a.writeJson(w, http.StatusConflict, errorResponse{Error: "Room already exists"})
		default:
			a.log.Println("create room:", err)
			errResp := NewInternalServerError(err)
			a.writeJson(w, errResp.StatusCode, errResp)
		}
		return
	}

	if a.events != nil {
		a.events.Log("room_created", map[string]any{"room": req.Name, "by": r.RemoteAddr})
	}

	a.writeJson(w, http.StatusCreated, CreateRoomResponse{Ok: true, Room: req.Name})
}

func (a *ParlorApp) listReports(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, a.reports.ListReports())
}

func (a *ParlorApp) listLogs(w http.ResponseWriter, r *http.Request) {
	files, err := a.events.ListFiles()
	if err != nil {
		a.log.Println("list logs:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, files)
}

func (a *ParlorApp) downloadLog(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	if name == "" {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	path, ok := a.events.FilePath(name)
	if !ok {
		errResp := NewNotFoundError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	http.ServeFile(w, r, path)
}

func (a *ParlorApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	id, err := a.generateConnId()
	if err != nil {
		a.log.Print("generateConnId:", err)
		conn.Close()
		return
	}

	client := server.NewClient(id, conn, a.cs, a.log)

	a.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
