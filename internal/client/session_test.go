package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/optimistic"
)

// fakeBackend serves a fixed board. Column creates block on gate when set.
type fakeBackend struct {
	mu    sync.Mutex
	view  model.BoardView
	calls []string

	gate      chan struct{}
	columnErr error
	cardErr   error
	mutateErr error
	cardCols  []uuid.UUID
	nextOrder int64
}

func (f *fakeBackend) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Board(context.Context, uuid.UUID) (model.BoardView, error) {
	return f.view, nil
}

func (f *fakeBackend) CreateColumn(_ context.Context, boardID uuid.UUID, title string, _ int) (model.Column, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.record("create column")
	if f.columnErr != nil {
		return model.Column{}, f.columnErr
	}
	f.mu.Lock()
	f.nextOrder += 1000
	order := f.nextOrder
	f.mu.Unlock()
	return model.Column{ID: uuid.Must(uuid.NewV7()), BoardID: boardID, Title: title, Order: order}, nil
}

func (f *fakeBackend) CreateCard(_ context.Context, in model.NewCard) (model.Card, error) {
	f.record("create card")
	f.mu.Lock()
	f.cardCols = append(f.cardCols, in.ColumnID)
	f.mu.Unlock()
	if f.cardErr != nil {
		return model.Card{}, f.cardErr
	}
	return model.Card{ID: uuid.Must(uuid.NewV7()), ColumnID: in.ColumnID, Title: in.Title, Order: 1000}, nil
}

func (f *fakeBackend) UpdateColumn(context.Context, string, model.ColumnPatch, *int64) error {
	f.record("update column")
	return f.mutateErr
}

func (f *fakeBackend) MoveColumn(context.Context, string, int64) error {
	f.record("move column")
	return f.mutateErr
}

func (f *fakeBackend) DeleteColumn(context.Context, string) error {
	f.record("delete column")
	return f.mutateErr
}

func (f *fakeBackend) UpdateCard(context.Context, string, model.CardPatch) error {
	f.record("update card")
	return f.mutateErr
}

func (f *fakeBackend) MoveCard(context.Context, string, model.MoveCard) error {
	f.record("move card")
	return f.mutateErr
}

func (f *fakeBackend) DeleteCard(context.Context, string) error {
	f.record("delete card")
	return f.mutateErr
}

var (
	boardID = uuid.Must(uuid.FromString("0190c1b2-0000-7000-8000-0000000000b0"))
	colTodo = uuid.Must(uuid.FromString("0190c1b2-0000-7000-8000-0000000000c1"))
	colDone = uuid.Must(uuid.FromString("0190c1b2-0000-7000-8000-0000000000c2"))
	cardX   = uuid.Must(uuid.FromString("0190c1b2-0000-7000-8000-0000000000d1"))
	cardY   = uuid.Must(uuid.FromString("0190c1b2-0000-7000-8000-0000000000d2"))
)

func loadedSession(t *testing.T) (*Session, *fakeBackend) {
	t.Helper()
	f := &fakeBackend{nextOrder: 2000, view: model.BoardView{
		Board: model.Board{ID: boardID},
		Columns: []model.ColumnView{
			{Column: model.Column{ID: colTodo, BoardID: boardID, Title: "Todo", Order: 1000}, Cards: []model.Card{
				{ID: cardX, ColumnID: colTodo, Title: "X", Order: 1000},
				{ID: cardY, ColumnID: colTodo, Title: "Y", Order: 2000},
			}},
			{Column: model.Column{ID: colDone, BoardID: boardID, Title: "Done", Order: 2000}},
		},
	}}
	s := NewSession(f, optimistic.New(), boardID, zaptest.NewLogger(t))
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	return s, f
}

func titlesOf(es []optimistic.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Title
	}
	return out
}

func waitAll(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestLoad_FillsStore(t *testing.T) {
	s, _ := loadedSession(t)
	require.Equal(t, []string{"Todo", "Done"}, titlesOf(s.Columns()))
	require.Equal(t, []string{"X", "Y"}, titlesOf(s.Cards(colTodo.String())))
}

func TestCreateColumn_ConfirmedOnWait(t *testing.T) {
	s, _ := loadedSession(t)
	temp := s.CreateColumn(context.Background(), "Review")
	require.True(t, optimistic.IsTemp(temp))
	require.Equal(t, []string{"Todo", "Done", "Review"}, titlesOf(s.Columns()))

	waitAll(t, s)

	real, st, ok := s.Store().Resolve(temp)
	require.True(t, ok)
	require.Equal(t, optimistic.Confirmed, st)
	require.False(t, optimistic.IsTemp(real))
	require.Equal(t, real, s.Columns()[2].ID)
}

func TestCreateCard_WaitsForPendingColumn(t *testing.T) {
	s, f := loadedSession(t)
	f.gate = make(chan struct{})

	col := s.CreateColumn(context.Background(), "Review")
	card, err := s.CreateCard(context.Background(), col, "first")
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, titlesOf(s.Cards(col)))
	require.Empty(t, f.Calls(), "nothing sent before the column is released")

	close(f.gate)
	waitAll(t, s)

	require.Equal(t, []string{"create column", "create card"}, f.Calls())
	realCol, _, _ := s.Store().Resolve(col)
	require.Equal(t, realCol, f.cardCols[0].String(), "card is created under the real column id")

	e, ok := s.Store().Get(card)
	require.True(t, ok)
	require.Equal(t, realCol, e.ParentID)
	require.Equal(t, optimistic.Confirmed, e.State)
}

func TestCreateCard_FailsWithParent(t *testing.T) {
	s, f := loadedSession(t)
	f.columnErr = errs.Forbidden("no")

	var (
		mu     sync.Mutex
		failed []error
	)
	s.OnError(func(_ string, err error) {
		mu.Lock()
		failed = append(failed, err)
		mu.Unlock()
	})

	col := s.CreateColumn(context.Background(), "Review")
	card, err := s.CreateCard(context.Background(), col, "orphan")
	require.NoError(t, err)
	waitAll(t, s)

	require.Equal(t, []string{"create column"}, f.Calls())
	for _, id := range []string{col, card} {
		_, st, ok := s.Store().Resolve(id)
		require.True(t, ok)
		require.Equal(t, optimistic.Failed, st)
	}
	require.Equal(t, []string{"Todo", "Done"}, titlesOf(s.Columns()))
	require.Len(t, failed, 2)
	require.ErrorIs(t, failed[1], ErrParentFailed)
	require.ErrorIs(t, failed[1], errs.ErrForbidden)

	_, err = s.CreateCard(context.Background(), col, "late")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestMutations_OnPendingAreDropped(t *testing.T) {
	s, f := loadedSession(t)
	f.gate = make(chan struct{})
	defer func() {
		close(f.gate)
		waitAll(t, s)
	}()

	col := s.CreateColumn(context.Background(), "Review")
	title := "renamed"
	ctx := context.Background()

	require.NoError(t, s.RenameColumn(ctx, col, title))
	require.NoError(t, s.MoveColumn(ctx, col, 0))
	require.NoError(t, s.DeleteColumn(ctx, col))
	require.NoError(t, s.MoveCard(ctx, cardX.String(), col, 0))
	require.Empty(t, f.Calls())

	e, _ := s.Store().Get(col)
	require.Equal(t, "Review", e.Title)
	require.Equal(t, []string{"X", "Y"}, titlesOf(s.Cards(colTodo.String())))
}

func TestMoveCard_AppliesLocally(t *testing.T) {
	s, f := loadedSession(t)
	require.NoError(t, s.MoveCard(context.Background(), cardY.String(), colTodo.String(), 0))
	require.Equal(t, []string{"move card"}, f.Calls())
	require.Equal(t, []string{"Y", "X"}, titlesOf(s.Cards(colTodo.String())))

	require.NoError(t, s.MoveCard(context.Background(), cardX.String(), colDone.String(), 5))
	require.Equal(t, []string{"Y"}, titlesOf(s.Cards(colTodo.String())))
	require.Equal(t, []string{"X"}, titlesOf(s.Cards(colDone.String())))
}

func TestMutations_RevertOnServerError(t *testing.T) {
	s, f := loadedSession(t)
	f.mutateErr = errs.StorageConflict(errors.New("40001"))
	ctx := context.Background()

	err := s.MoveCard(ctx, cardX.String(), colDone.String(), 0)
	require.ErrorIs(t, err, errs.ErrStorageConflict)
	require.Equal(t, []string{"X", "Y"}, titlesOf(s.Cards(colTodo.String())))
	require.Empty(t, s.Cards(colDone.String()))

	title := "new"
	require.Error(t, s.UpdateCard(ctx, cardX.String(), model.CardPatch{Title: &title}))
	e, _ := s.Store().Get(cardX.String())
	require.Equal(t, "X", e.Title)

	require.Error(t, s.DeleteColumn(ctx, colTodo.String()))
	require.Equal(t, []string{"Todo", "Done"}, titlesOf(s.Columns()))
	require.Len(t, s.Cards(colTodo.String()), 2)
}

func TestMutations_UnknownIDs(t *testing.T) {
	s, f := loadedSession(t)
	err := s.DeleteCard(context.Background(), uuid.Must(uuid.NewV4()).String())
	require.ErrorIs(t, err, errs.ErrNotFound)
	err = s.MoveCard(context.Background(), cardX.String(), "nope", 0)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, f.Calls())
}

func TestMoveColumn_NegativeIndex(t *testing.T) {
	s, f := loadedSession(t)
	err := s.MoveColumn(context.Background(), colDone.String(), -1)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Empty(t, f.Calls())
}

func TestWait_HonoursContext(t *testing.T) {
	s, f := loadedSession(t)
	f.gate = make(chan struct{})
	s.CreateColumn(context.Background(), "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	require.Zero(t, s.Drain())

	close(f.gate)
	waitAll(t, s)
}
