package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/optimistic"
)

// Backend is the subset of API a Session needs.
type Backend interface {
	Board(ctx context.Context, id uuid.UUID) (model.BoardView, error)
	CreateColumn(ctx context.Context, boardID uuid.UUID, title string, width int) (model.Column, error)
	UpdateColumn(ctx context.Context, id string, p model.ColumnPatch, order *int64) error
	MoveColumn(ctx context.Context, id string, index int64) error
	DeleteColumn(ctx context.Context, id string) error
	CreateCard(ctx context.Context, in model.NewCard) (model.Card, error)
	UpdateCard(ctx context.Context, id string, p model.CardPatch) error
	MoveCard(ctx context.Context, id string, m model.MoveCard) error
	DeleteCard(ctx context.Context, id string) error
}

var _ Backend = (*API)(nil)

// ErrParentFailed is reported for creates whose parent create failed.
var ErrParentFailed = errors.New("parent create failed")

// flight is one outstanding create. real and err are written before done is
// closed.
type flight struct {
	done chan struct{}
	real string
	err  error
}

type outcome struct {
	temp  string
	real  string
	order int64
	err   error
}

// Session owns the local copy of one board.
//
// Creates return a temp id at once and run in the background; their outcomes
// are applied to the store only by Drain or Wait, on the caller's goroutine.
// Mutations of persisted entities are applied locally, sent synchronously and
// reverted from a snapshot when the server rejects them. Mutations that address
// an entity still pending creation are dropped without a request.
type Session struct {
	api     Backend
	store   *optimistic.Store
	log     *zap.Logger
	boardID uuid.UUID

	onError func(op string, err error)

	mu       sync.Mutex
	flights  map[string]*flight
	outcomes []outcome
	wg       sync.WaitGroup
}

// NewSession returns a session for boardID backed by store.
func NewSession(api Backend, store *optimistic.Store, boardID uuid.UUID, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		api:     api,
		store:   store,
		log:     log,
		boardID: boardID,
		flights: map[string]*flight{},
	}
}

// OnError registers a callback for failed creates and reverted mutations.
func (s *Session) OnError(fn func(op string, err error)) { s.onError = fn }

// Store exposes the local state.
func (s *Session) Store() *optimistic.Store { return s.store }

// Load fetches the board and puts every column and card into the store.
func (s *Session) Load(ctx context.Context) (model.BoardView, error) {
	v, err := s.api.Board(ctx, s.boardID)
	if err != nil {
		return model.BoardView{}, err
	}
	board := s.boardID.String()
	for _, c := range v.Columns {
		s.store.Put(optimistic.Entity{
			ID: c.ID.String(), Kind: optimistic.KindColumn, ParentID: board, Title: c.Title, Order: c.Order,
		})
		for _, k := range c.Cards {
			s.store.Put(optimistic.Entity{
				ID: k.ID.String(), Kind: optimistic.KindCard, ParentID: c.ID.String(), Title: k.Title, Order: k.Order,
			})
		}
	}
	return v, nil
}

// Columns returns the board's columns in display order.
func (s *Session) Columns() []optimistic.Entity { return s.store.Children(s.boardID.String()) }

// Cards returns a column's cards in display order.
func (s *Session) Cards(columnID string) []optimistic.Entity { return s.store.Children(columnID) }

// CreateColumn appends a pending column and returns its temp id.
func (s *Session) CreateColumn(ctx context.Context, title string) string {
	temp := s.store.BeginCreate(optimistic.KindColumn, s.boardID.String(), title)
	s.launch(temp, nil, func(string) (string, int64, error) {
		c, err := s.api.CreateColumn(ctx, s.boardID, title, 0)
		if err != nil {
			return "", 0, err
		}
		return c.ID.String(), c.Order, nil
	})
	return temp
}

// CreateCard appends a pending card to columnID, which may itself be pending.
// The request waits for the column's create and fails with it.
func (s *Session) CreateCard(ctx context.Context, columnID, title string) (string, error) {
	real, st, ok := s.store.Resolve(columnID)
	switch {
	case !ok:
		return "", errs.NotFound("column")
	case st == optimistic.Failed:
		return "", errs.Validation("column was not created", errs.Issue{Path: "columnId", Message: "creation failed"})
	}

	var parent *flight
	if st == optimistic.Pending {
		s.mu.Lock()
		parent = s.flights[real]
		s.mu.Unlock()
	}

	temp := s.store.BeginCreate(optimistic.KindCard, real, title)
	s.launch(temp, parent, func(col string) (string, int64, error) {
		colID, err := uuid.FromString(col)
		if err != nil {
			return "", 0, errs.Validation("invalid column id", errs.Issue{Path: "columnId", Message: "must be a UUID"})
		}
		c, err := s.api.CreateCard(ctx, model.NewCard{ColumnID: colID, Title: title})
		if err != nil {
			return "", 0, err
		}
		return c.ID.String(), c.Order, nil
	})
	return temp, nil
}

// launch runs create in the background. With a parent flight it first waits for
// it and passes the parent's real id to create.
func (s *Session) launch(temp string, parent *flight, create func(parentID string) (string, int64, error)) {
	f := &flight{done: make(chan struct{})}
	s.mu.Lock()
	s.flights[temp] = f
	s.mu.Unlock()

	var parentID string
	if e, ok := s.store.Get(temp); ok {
		parentID = e.ParentID
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var (
			real  string
			order int64
			err   error
		)
		if parent != nil {
			<-parent.done
			if parent.err != nil {
				err = fmt.Errorf("%w: %w", ErrParentFailed, parent.err)
			} else {
				parentID = parent.real
			}
		}
		if err == nil {
			real, order, err = create(parentID)
		}

		f.real, f.err = real, err
		s.mu.Lock()
		s.outcomes = append(s.outcomes, outcome{temp: temp, real: real, order: order, err: err})
		s.mu.Unlock()
		close(f.done)
	}()
}

// Drain applies every finished create to the store and returns how many were
// applied. It never blocks on the network.
func (s *Session) Drain() int {
	s.mu.Lock()
	batch := s.outcomes
	s.outcomes = nil
	for _, o := range batch {
		delete(s.flights, o.temp)
	}
	s.mu.Unlock()

	for _, o := range batch {
		if o.err != nil {
			s.store.Fail(o.temp)
			s.report("create", o.err)
			continue
		}
		if err := s.store.Confirm(o.temp, o.real, o.order); err != nil {
			// The entity was removed locally while its create was in flight.
			s.log.Debug("confirm skipped", zap.String("temp", o.temp), zap.Error(err))
		}
	}
	return len(batch)
}

// Wait blocks until every outstanding create has finished, then drains.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.Drain()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// target resolves id for a mutation. ok is false when the mutation must be
// skipped because the entity is not persisted yet.
func (s *Session) target(id, entity string) (real string, ok bool, err error) {
	real, st, found := s.store.Resolve(id)
	switch {
	case !found:
		return "", false, errs.NotFound(entity)
	case st == optimistic.Pending, st == optimistic.Failed:
		return "", false, nil
	}
	return real, true, nil
}

// mutate applies local, then calls remote; a remote failure restores the store.
func (s *Session) mutate(op string, local func(), remote func() error) error {
	snap := s.store.Snapshot()
	local()
	if err := remote(); err != nil {
		s.store.Restore(snap)
		s.report(op, err)
		return err
	}
	return nil
}

// RenameColumn sets a column title.
func (s *Session) RenameColumn(ctx context.Context, id, title string) error {
	real, ok, err := s.target(id, "column")
	if err != nil || !ok {
		return err
	}
	return s.mutate("rename column",
		func() { s.store.Patch(real, func(e *optimistic.Entity) { e.Title = title }) },
		func() error { return s.api.UpdateColumn(ctx, real, model.ColumnPatch{Title: &title}, nil) },
	)
}

// MoveColumn places a column at index among the other columns.
func (s *Session) MoveColumn(ctx context.Context, id string, index int) error {
	real, ok, err := s.target(id, "column")
	if err != nil || !ok {
		return err
	}
	if index < 0 {
		return errs.Validation("invalid order", errs.Issue{Path: "order", Message: "must be >= 0"})
	}
	return s.mutate("move column",
		func() { s.store.Move(real, s.boardID.String(), index) },
		func() error { return s.api.MoveColumn(ctx, real, int64(index)) },
	)
}

// DeleteColumn removes a column and its cards.
func (s *Session) DeleteColumn(ctx context.Context, id string) error {
	real, ok, err := s.target(id, "column")
	if err != nil || !ok {
		return err
	}
	return s.mutate("delete column",
		func() { s.store.Remove(real) },
		func() error { return s.api.DeleteColumn(ctx, real) },
	)
}

// UpdateCard sends a card patch. Only the title is mirrored locally.
func (s *Session) UpdateCard(ctx context.Context, id string, p model.CardPatch) error {
	real, ok, err := s.target(id, "card")
	if err != nil || !ok {
		return err
	}
	return s.mutate("update card",
		func() {
			if p.Title != nil {
				s.store.Patch(real, func(e *optimistic.Entity) { e.Title = *p.Title })
			}
		},
		func() error { return s.api.UpdateCard(ctx, real, p) },
	)
}

// MoveCard places a card at index in columnID.
func (s *Session) MoveCard(ctx context.Context, id, columnID string, index int) error {
	real, ok, err := s.target(id, "card")
	if err != nil || !ok {
		return err
	}
	col, ok, err := s.target(columnID, "column")
	if err != nil || !ok {
		return err
	}
	if index < 0 {
		return errs.Validation("invalid order", errs.Issue{Path: "order", Message: "must be >= 0"})
	}
	return s.mutate("move card",
		func() { s.store.Move(real, col, index) },
		func() error {
			return s.api.MoveCard(ctx, real, model.MoveCard{TargetColumnID: col, Order: int64(index)})
		},
	)
}

// DeleteCard removes a card.
func (s *Session) DeleteCard(ctx context.Context, id string) error {
	real, ok, err := s.target(id, "card")
	if err != nil || !ok {
		return err
	}
	return s.mutate("delete card",
		func() { s.store.Remove(real) },
		func() error { return s.api.DeleteCard(ctx, real) },
	)
}

func (s *Session) report(op string, err error) {
	s.log.Warn("board operation failed", zap.String("op", op), zap.Error(err))
	if s.onError != nil {
		s.onError(op, err)
	}
}
