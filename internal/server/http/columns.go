package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
)

type columnPatchRequest struct {
	Title *string `json:"title"`
	Width *int    `json:"width"`
	Order *int64  `json:"order"`
}

type orderRequest struct {
	Order *int64 `json:"order"`
}

// updateColumn patches a column; a present order also moves it.
func (s *Server) updateColumn(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["columnId"]
	if model.IsTempID(ref) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	var req columnPatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	p := model.ColumnPatch{Title: req.Title, Width: req.Width}
	if err := s.columns.Update(r.Context(), userID(r), ref, p, req.Order); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}

func (s *Server) moveColumn(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["columnId"]
	if model.IsTempID(ref) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Order == nil {
		writeError(w, s.log, errs.Validation("order is required", errs.Issue{Path: "order", Message: "required"}))
		return
	}
	if err := s.columns.Move(r.Context(), userID(r), ref, *req.Order); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}

func (s *Server) deleteColumn(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["columnId"]
	if model.IsTempID(ref) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	if err := s.columns.Delete(r.Context(), userID(r), ref); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}
