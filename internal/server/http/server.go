// Package httpserver exposes the board API over HTTP and a websocket stream of
// board events.
package httpserver

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/events"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/service"
)

// Boards is the board service used by the handlers.
type Boards interface {
	Create(ctx context.Context, userID uuid.UUID, in model.NewBoard) (*model.Board, error)
	List(ctx context.Context, userID uuid.UUID) ([]model.Board, error)
	View(ctx context.Context, userID, boardID uuid.UUID) (*model.BoardView, error)
	CanRead(ctx context.Context, userID, boardID uuid.UUID) error
}

// Columns is the column service used by the handlers.
type Columns interface {
	Create(ctx context.Context, userID uuid.UUID, in model.NewColumn) (*model.Column, error)
	Update(ctx context.Context, userID uuid.UUID, ref string, p model.ColumnPatch, order *int64) error
	Move(ctx context.Context, userID uuid.UUID, ref string, order int64) error
	Delete(ctx context.Context, userID uuid.UUID, ref string) error
}

// Cards is the card service used by the handlers.
type Cards interface {
	Create(ctx context.Context, userID uuid.UUID, in model.NewCard) (*model.Card, error)
	Update(ctx context.Context, userID uuid.UUID, ref string, p model.CardPatch) error
	Move(ctx context.Context, userID uuid.UUID, ref string, m model.MoveCard) error
	Delete(ctx context.Context, userID uuid.UUID, ref string) error
	Get(ctx context.Context, userID, cardID uuid.UUID) (*model.Card, error)
	Activity(ctx context.Context, userID, cardID uuid.UUID, limit int) ([]model.ActivityEntry, error)
	Comments(ctx context.Context, userID, cardID uuid.UUID) ([]model.Comment, error)
	Comment(ctx context.Context, userID uuid.UUID, ref, body string) (*model.Comment, error)
}

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Boards  = (*service.BoardService)(nil)
	_ Columns = (*service.ColumnService)(nil)
	_ Cards   = (*service.CardService)(nil)
)

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Auth        service.AuthService
	Boards      Boards
	Columns     Columns
	Cards       Cards
	Events      events.Subscriber
	Health      Pinger
	Log         *zap.Logger
	CORSOrigins []string
}

// Server wires services into HTTP handlers.
type Server struct {
	auth    service.AuthService
	boards  Boards
	columns Columns
	cards   Cards
	events  events.Subscriber
	health  Pinger
	log     *zap.Logger
	origins []string

	// streams is cancelled by CloseStreams to end open websockets.
	streams      context.Context
	closeStreams context.CancelFunc
}

// New constructs an HTTP server with injected services.
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	streams, closeStreams := context.WithCancel(context.Background())
	return &Server{
		streams:      streams,
		closeStreams: closeStreams,
		auth:         d.Auth,
		boards:       d.Boards,
		columns:      d.Columns,
		cards:        d.Cards,
		events:       d.Events,
		health:       d.Health,
		log:          log,
		origins:      origins,
	}
}

// CloseStreams ends every open board stream. http.Server.Shutdown does not
// wait for hijacked connections, so register it with RegisterOnShutdown.
func (s *Server) CloseStreams() { s.closeStreams() }

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(Auth(s.auth, s.log))

	api.HandleFunc("/boards", s.listBoards).Methods(http.MethodGet)
	api.HandleFunc("/boards", s.createBoard).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardId}", s.getBoard).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardId}/columns", s.createColumn).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardId}/ws", s.boardStream).Methods(http.MethodGet)

	api.HandleFunc("/columns/{columnId}", s.updateColumn).Methods(http.MethodPatch)
	api.HandleFunc("/columns/{columnId}", s.deleteColumn).Methods(http.MethodDelete)
	api.HandleFunc("/columns/{columnId}/move", s.moveColumn).Methods(http.MethodPost)
	api.HandleFunc("/columns/{columnId}/cards", s.createCard).Methods(http.MethodPost)

	api.HandleFunc("/cards/{cardId}", s.getCard).Methods(http.MethodGet)
	api.HandleFunc("/cards/{cardId}", s.updateCard).Methods(http.MethodPatch)
	api.HandleFunc("/cards/{cardId}", s.deleteCard).Methods(http.MethodDelete)
	api.HandleFunc("/cards/{cardId}/move", s.moveCard).Methods(http.MethodPost)
	api.HandleFunc("/cards/{cardId}/activity", s.cardActivity).Methods(http.MethodGet)
	api.HandleFunc("/cards/{cardId}/comments", s.listComments).Methods(http.MethodGet)
	api.HandleFunc("/cards/{cardId}/comments", s.addComment).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID returns the authenticated caller. The Auth middleware guarantees it.
func userID(r *http.Request) uuid.UUID {
	id, _ := UserIDFromCtx(r.Context())
	return id
}
