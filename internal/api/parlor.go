package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/eventlog"
	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/store"
)

// ParlorApp owns the HTTP surface: the room listing/creation API, the
// websocket upgrade, and the admin review endpoints.
type ParlorApp struct {
	log            *log.Logger
	rooms          store.RoomStore
	reports        store.ReportStore
	cs             *server.ChatServer
	events         *eventlog.EventLogger
	mux            *http.Server
	adminSecret    string
	allowedOrigins []string
	generateConnId func() (string, error)
}

func NewParlorApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer,
	rooms store.RoomStore, reports store.ReportStore, events *eventlog.EventLogger,
	cfg *config.Config) *ParlorApp {

	a := &ParlorApp{
		log:            logger,
		rooms:          rooms,
		reports:        reports,
		cs:             cs,
		events:         events,
		adminSecret:    cfg.AdminSecret,
		allowedOrigins: cfg.AllowedOrigins,
		generateConnId: shortid.Generate,
	}

	mux.HandleFunc("GET /api/rooms", a.listRooms)
	mux.HandleFunc("POST /api/rooms", a.createRoom)
	mux.HandleFunc("GET /ws", a.serveWs)
	mux.Handle("GET /admin/reports", a.adminMiddleware(a.listReports))
	mux.Handle("GET /admin/loglist", a.adminMiddleware(a.listLogs))
	mux.Handle("GET /admin/logs", a.adminMiddleware(a.downloadLog))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "X-Admin-Pass"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	a.mux = srv
	return a
}

func (a *ParlorApp) Start() error {
	a.log.Printf("starting server on %s\n", a.mux.Addr)
	return a.mux.ListenAndServe()
}

func (a *ParlorApp) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
