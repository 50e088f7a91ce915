package httpserver

import (
	"net/http"

	"github.com/and161185/kanban-keeper/internal/model"
)

type boardRequest struct {
	Title    string      `json:"title"`
	Theme    model.Theme `json:"theme"`
	IsPublic bool        `json:"isPublic"`
}

type columnRequest struct {
	Title string `json:"title"`
	Width int    `json:"width"`
}

func (s *Server) listBoards(w http.ResponseWriter, r *http.Request) {
	bs, err := s.boards.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bs)
}

func (s *Server) createBoard(w http.ResponseWriter, r *http.Request) {
	var req boardRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	b, err := s.boards.Create(r.Context(), userID(r), model.NewBoard(req))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// getBoard returns the board with columns and cards in display order.
func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "boardId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	v, err := s.boards.View(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) createColumn(w http.ResponseWriter, r *http.Request) {
	boardID, err := pathID(r, "boardId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req columnRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	c, err := s.columns.Create(r.Context(), userID(r), model.NewColumn{BoardID: boardID, Title: req.Title, Width: req.Width})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
