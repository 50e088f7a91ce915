package service

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
)

// BoardService implements board creation and reads.
type BoardService struct{ core }

// NewBoardService constructs a BoardService.
func NewBoardService(d Deps) *BoardService { return &BoardService{core: newCore(d)} }

// Create makes a board owned by userID.
func (s *BoardService) Create(ctx context.Context, userID uuid.UUID, in model.NewBoard) (*model.Board, error) {
	in.Title = cleanText(in.Title)
	if in.Theme == "" {
		in.Theme = model.ThemeLight
	}
	var issues []errs.Issue
	if is := checkText(in.Title, "title", 1, maxTitleLen); is != nil {
		issues = append(issues, *is)
	}
	if !in.Theme.IsValid() {
		issues = append(issues, errs.Issue{Path: "theme", Message: "must be light or dark"})
	}
	if len(issues) > 0 {
		return nil, errs.Validation("invalid board", issues...)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	b := &model.Board{ID: id, Title: in.Title, Theme: in.Theme, OwnerID: userID, IsPublic: in.IsPublic}
	if err := s.reader.CreateBoard(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// List returns boards the user owns or belongs to.
func (s *BoardService) List(ctx context.Context, userID uuid.UUID) ([]model.Board, error) {
	return s.reader.ListBoards(ctx, userID)
}

// View returns a board with its columns and cards in display order.
func (s *BoardService) View(ctx context.Context, userID, boardID uuid.UUID) (*model.BoardView, error) {
	if err := s.CanRead(ctx, userID, boardID); err != nil {
		return nil, err
	}
	return s.reader.GetBoardView(ctx, boardID)
}

// CanRead reports whether userID may observe boardID.
func (s *BoardService) CanRead(ctx context.Context, userID, boardID uuid.UUID) error {
	return s.authorize(ctx, boardID, userID, false)
}
