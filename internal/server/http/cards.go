package httpserver

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
)

type cardRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    model.Priority `json:"priority"`
	DueDate     *time.Time     `json:"dueDate"`
	Weight      *int           `json:"weight"`
}

type cardPatchRequest struct {
	Title             *string                   `json:"title"`
	Description       *string                   `json:"description"`
	Priority          *model.Priority           `json:"priority"`
	DueDate           model.Optional[time.Time] `json:"dueDate"`
	Weight            model.Optional[int]       `json:"weight"`
	LabelIDsToAdd     []uuid.UUID               `json:"labelIdsToAdd"`
	LabelIDsToRemove  []uuid.UUID               `json:"labelIdsToRemove"`
	AssigneesToAdd    []uuid.UUID               `json:"assigneeIdsToAdd"`
	AssigneesToRemove []uuid.UUID               `json:"assigneeIdsToRemove"`
}

type moveRequest struct {
	TargetColumnID string `json:"targetColumnId"`
	Order          *int64 `json:"order"`
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	colID, err := pathID(r, "columnId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req cardRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	c, err := s.cards.Create(r.Context(), userID(r), model.NewCard{
		ColumnID:    colID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		Weight:      req.Weight,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cardId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	c, err := s.cards.Get(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// updateCard applies a partial update. Temp ids answer success without effect.
func (s *Server) updateCard(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["cardId"]
	if model.IsTempID(ref) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	var req cardPatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.cards.Update(r.Context(), userID(r), ref, model.CardPatch(req)); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}

func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["cardId"]
	if model.IsTempID(ref) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	if err := s.cards.Delete(r.Context(), userID(r), ref); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}

// moveCard relocates a card to an index within a target column.
func (s *Server) moveCard(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["cardId"]
	if model.IsTempID(ref) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	var req moveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if model.IsTempID(req.TargetColumnID) {
		writeJSON(w, http.StatusOK, okBody)
		return
	}
	var issues []errs.Issue
	if req.TargetColumnID == "" {
		issues = append(issues, errs.Issue{Path: "targetColumnId", Message: "required"})
	}
	if req.Order == nil {
		issues = append(issues, errs.Issue{Path: "order", Message: "required"})
	}
	if len(issues) > 0 {
		writeError(w, s.log, errs.Validation("invalid move", issues...))
		return
	}
	err := s.cards.Move(r.Context(), userID(r), ref, model.MoveCard{TargetColumnID: req.TargetColumnID, Order: *req.Order})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}

func (s *Server) cardActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cardId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	entries, err := s.cards.Activity(r.Context(), userID(r), id, limit)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cardId")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	cs, err := s.cards.Comments(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if cs == nil {
		cs = []model.Comment{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	c, err := s.cards.Comment(r.Context(), userID(r), mux.Vars(r)["cardId"], req.Body)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
