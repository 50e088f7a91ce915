package service

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/events"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/ordering"
	"github.com/and161185/kanban-keeper/internal/repository"
)

// Column width bounds in pixels.
const (
	defaultColumnWidth = 280
	minColumnWidth     = 120
	maxColumnWidth     = 1200
)

// ColumnService implements column mutations. Columns own no activity log; their
// changes are reported through board events and the operational log.
type ColumnService struct{ core }

// NewColumnService constructs a ColumnService.
func NewColumnService(d Deps) *ColumnService { return &ColumnService{core: newCore(d)} }

// Create appends a column at the end of its board.
func (s *ColumnService) Create(ctx context.Context, userID uuid.UUID, in model.NewColumn) (*model.Column, error) {
	in.Title = cleanText(in.Title)
	if in.Width == 0 {
		in.Width = defaultColumnWidth
	}
	var issues []errs.Issue
	if is := checkText(in.Title, "title", 1, maxTitleLen); is != nil {
		issues = append(issues, *is)
	}
	if is := checkWidth(in.Width); is != nil {
		issues = append(issues, *is)
	}
	if len(issues) > 0 {
		return nil, errs.Validation("invalid column", issues...)
	}
	if err := s.authorize(ctx, in.BoardID, userID, true); err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	var col *model.Column
	err = s.inTx(ctx, "column.create", func(ctx context.Context, tx repository.BoardTx) error {
		sibs, err := tx.ColumnSiblings(ctx, in.BoardID)
		if err != nil {
			return err
		}
		c := &model.Column{
			ID:      id,
			BoardID: in.BoardID,
			Title:   in.Title,
			Width:   in.Width,
			Order:   ordering.Place(sibs, len(sibs)).Order,
		}
		if err := tx.InsertColumn(ctx, c); err != nil {
			return err
		}
		col = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.ColumnCreated, in.BoardID, userID, col))
	return col, nil
}

func checkWidth(w int) *errs.Issue {
	if w < minColumnWidth || w > maxColumnWidth {
		return &errs.Issue{Path: "width", Message: "out of range"}
	}
	return nil
}

// Update applies a partial update and, when order is set, moves the column to that
// index in the same transaction. Temp ids succeed without effect.
func (s *ColumnService) Update(ctx context.Context, userID uuid.UUID, ref string, p model.ColumnPatch, order *int64) error {
	colID, temp, err := parseRef(ref, "columnId")
	if err != nil || temp {
		return err
	}
	var issues []errs.Issue
	if p.Title != nil {
		t := cleanText(*p.Title)
		p.Title = &t
		if is := checkText(t, "title", 1, maxTitleLen); is != nil {
			issues = append(issues, *is)
		}
	}
	if p.Width != nil {
		if is := checkWidth(*p.Width); is != nil {
			issues = append(issues, *is)
		}
	}
	if order != nil && *order < 0 {
		issues = append(issues, errs.Issue{Path: "order", Message: "must be >= 0"})
	}
	if len(issues) > 0 {
		return errs.Validation("invalid column update", issues...)
	}
	if p.IsEmpty() && order == nil {
		return nil
	}
	boardID, err := s.reader.ColumnBoard(ctx, colID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return err
	}

	var moved *ordering.Sibling
	err = s.inTx(ctx, "column.update", func(ctx context.Context, tx repository.BoardTx) error {
		moved = nil
		col, err := tx.GetColumn(ctx, colID)
		if err != nil {
			return err
		}
		if !p.IsEmpty() {
			if err := tx.UpdateColumnFields(ctx, colID, p); err != nil {
				return err
			}
		}
		if order != nil {
			moved, err = s.reposition(ctx, tx, col, *order)
		}
		return err
	})
	if err != nil {
		return err
	}
	if !p.IsEmpty() {
		s.publish(ctx, events.New(events.ColumnUpdated, boardID, userID, map[string]any{"id": colID}))
	}
	if moved != nil {
		s.publishMove(ctx, boardID, userID, *moved)
	}
	return nil
}

// Move relocates a column to index order among the board's other columns.
func (s *ColumnService) Move(ctx context.Context, userID uuid.UUID, ref string, order int64) error {
	if model.IsTempID(ref) {
		return nil
	}
	if order < 0 {
		return errs.Validation("order must be a non-negative integer",
			errs.Issue{Path: "order", Message: "must be >= 0"})
	}
	colID, _, err := parseRef(ref, "columnId")
	if err != nil {
		return err
	}
	boardID, err := s.reader.ColumnBoard(ctx, colID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return err
	}

	var moved *ordering.Sibling
	err = s.inTx(ctx, "column.move", func(ctx context.Context, tx repository.BoardTx) error {
		col, err := tx.GetColumn(ctx, colID)
		if err != nil {
			return err
		}
		moved, err = s.reposition(ctx, tx, col, order)
		return err
	})
	if err != nil {
		return err
	}
	if moved != nil {
		s.publishMove(ctx, boardID, userID, *moved)
	}
	return nil
}

// reposition places col at index among its siblings. It returns nil when the
// column already sits at index.
func (s *ColumnService) reposition(ctx context.Context, tx repository.BoardTx, col *model.Column, order int64) (*ordering.Sibling, error) {
	sibs, err := tx.ColumnSiblings(ctx, col.BoardID)
	if err != nil {
		return nil, err
	}
	others := ordering.Without(sibs, col.ID)
	index := clampIndex(order, len(others))
	if ordering.IndexOf(sibs, col.ID) == index {
		return nil, nil
	}
	p := ordering.Place(others, index)
	for _, r := range p.Renumbered {
		if err := tx.SetColumnOrder(ctx, r.ID, r.Order); err != nil {
			return nil, err
		}
	}
	if err := tx.SetColumnOrder(ctx, col.ID, p.Order); err != nil {
		return nil, err
	}
	s.log.Info("column moved",
		zap.Stringer("column", col.ID),
		zap.Int64("from", col.Order),
		zap.Int64("to", p.Order),
		zap.Int("renumbered", len(p.Renumbered)),
	)
	return &ordering.Sibling{ID: col.ID, Order: p.Order}, nil
}

func (s *ColumnService) publishMove(ctx context.Context, boardID, userID uuid.UUID, m ordering.Sibling) {
	s.publish(ctx, events.New(events.ColumnMoved, boardID, userID, map[string]any{"id": m.ID, "order": m.Order}))
}

// Delete removes a column with its cards. Temp ids succeed without effect.
func (s *ColumnService) Delete(ctx context.Context, userID uuid.UUID, ref string) error {
	colID, temp, err := parseRef(ref, "columnId")
	if err != nil || temp {
		return err
	}
	boardID, err := s.reader.ColumnBoard(ctx, colID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return err
	}
	err = s.inTx(ctx, "column.delete", func(ctx context.Context, tx repository.BoardTx) error {
		return tx.DeleteColumn(ctx, colID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.New(events.ColumnDeleted, boardID, userID, map[string]any{"id": colID}))
	return nil
}
