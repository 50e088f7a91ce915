package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/events"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/ordering"
	"github.com/and161185/kanban-keeper/internal/repository"
	"github.com/and161185/kanban-keeper/internal/retry"
)

var errTransient = errors.New("could not serialize access")

type boardRec struct {
	board   model.Board
	members map[uuid.UUID]model.Role
}

// memStore is an in-memory BoardReader and TxRunner. A transaction works on the
// live maps and is undone from a snapshot when it fails.
type memStore struct {
	mu sync.Mutex

	boards   map[uuid.UUID]*boardRec
	columns  map[uuid.UUID]model.Column
	cards    map[uuid.UUID]model.Card
	labels   map[uuid.UUID]uuid.UUID // label -> board
	activity []model.ActivityEntry
	comments []model.Comment

	transientLeft int   // commits to fail with errTransient
	activityErr   error // AppendActivity failure
	txCalls       int
	writes        int
}

var (
	_ repository.BoardReader = (*memStore)(nil)
	_ repository.TxRunner    = (*memStore)(nil)
	_ repository.BoardTx     = (*memTx)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		boards:  map[uuid.UUID]*boardRec{},
		columns: map[uuid.UUID]model.Column{},
		cards:   map[uuid.UUID]model.Card{},
		labels:  map[uuid.UUID]uuid.UUID{},
	}
}

func newUUID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func (m *memStore) addBoard(owner uuid.UUID) uuid.UUID {
	id := newUUID()
	m.boards[id] = &boardRec{
		board:   model.Board{ID: id, Title: "b", Theme: model.ThemeLight, OwnerID: owner},
		members: map[uuid.UUID]model.Role{},
	}
	return id
}

func (m *memStore) addColumn(boardID uuid.UUID, order int64) uuid.UUID {
	id := newUUID()
	m.columns[id] = model.Column{ID: id, BoardID: boardID, Title: "c", Width: 280, Order: order}
	return id
}

func (m *memStore) addCard(columnID uuid.UUID, title string, order int64) uuid.UUID {
	id := newUUID()
	m.cards[id] = model.Card{
		ID:       id,
		ColumnID: columnID,
		BoardID:  m.columns[columnID].BoardID,
		Title:    title,
		Priority: model.PriorityMedium,
		Order:    order,
	}
	return id
}

// columnTitles returns card titles of a column in display order.
func (m *memStore) columnTitles(columnID uuid.UUID) []string {
	var cs []model.Card
	for _, c := range m.cards {
		if c.ColumnID == columnID {
			cs = append(cs, c)
		}
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].Order < cs[j].Order })
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Title
	}
	return out
}

func (m *memStore) IsTransient(err error) bool { return errors.Is(err, errTransient) }

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.BoardTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++

	cols := cloneMap(m.columns)
	cards := cloneMap(m.cards)
	acts := append([]model.ActivityEntry(nil), m.activity...)
	nCom, nWrites := len(m.comments), m.writes

	err := fn(ctx, &memTx{m: m})
	if err == nil && m.transientLeft > 0 {
		m.transientLeft--
		err = fmt.Errorf("commit: %w", errTransient)
	}
	if err != nil {
		m.columns, m.cards = cols, cards
		m.activity, m.comments, m.writes = acts, m.comments[:nCom], nWrites
	}
	return err
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// BoardReader

func (m *memStore) CreateBoard(_ context.Context, b *model.Board) error {
	m.boards[b.ID] = &boardRec{board: *b, members: map[uuid.UUID]model.Role{}}
	b.CreatedAt = time.Now()
	return nil
}

func (m *memStore) ListBoards(_ context.Context, userID uuid.UUID) ([]model.Board, error) {
	out := []model.Board{}
	for _, r := range m.boards {
		if _, member := r.members[userID]; r.board.OwnerID == userID || member {
			out = append(out, r.board)
		}
	}
	return out, nil
}

func (m *memStore) GetBoardView(_ context.Context, boardID uuid.UUID) (*model.BoardView, error) {
	r, ok := m.boards[boardID]
	if !ok {
		return nil, errs.NotFound("board")
	}
	v := &model.BoardView{Board: r.board}
	for _, c := range m.columns {
		if c.BoardID == boardID {
			v.Columns = append(v.Columns, model.ColumnView{Column: c})
		}
	}
	sort.Slice(v.Columns, func(i, j int) bool { return v.Columns[i].Order < v.Columns[j].Order })
	for i := range v.Columns {
		for _, c := range m.cards {
			if c.ColumnID == v.Columns[i].ID {
				v.Columns[i].Cards = append(v.Columns[i].Cards, c)
			}
		}
		cs := v.Columns[i].Cards
		sort.Slice(cs, func(a, b int) bool { return cs[a].Order < cs[b].Order })
	}
	return v, nil
}

func (m *memStore) BoardRole(_ context.Context, boardID, userID uuid.UUID) (model.Role, error) {
	r, ok := m.boards[boardID]
	if !ok {
		return "", errs.NotFound("board")
	}
	if r.board.OwnerID == userID {
		return model.RoleOwner, nil
	}
	if role, ok := r.members[userID]; ok {
		return role, nil
	}
	if r.board.IsPublic {
		return model.RoleViewer, nil
	}
	return "", nil
}

func (m *memStore) ColumnBoard(_ context.Context, columnID uuid.UUID) (uuid.UUID, error) {
	c, ok := m.columns[columnID]
	if !ok {
		return uuid.Nil, errs.NotFound("column")
	}
	return c.BoardID, nil
}

func (m *memStore) CardBoard(_ context.Context, cardID uuid.UUID) (uuid.UUID, error) {
	c, ok := m.cards[cardID]
	if !ok {
		return uuid.Nil, errs.NotFound("card")
	}
	return c.BoardID, nil
}

func (m *memStore) GetCard(_ context.Context, cardID uuid.UUID) (*model.Card, error) {
	c, ok := m.cards[cardID]
	if !ok {
		return nil, errs.NotFound("card")
	}
	return &c, nil
}

func (m *memStore) ListActivity(_ context.Context, cardID uuid.UUID, limit int) ([]model.ActivityEntry, error) {
	var out []model.ActivityEntry
	for i := len(m.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if m.activity[i].CardID == cardID {
			out = append(out, m.activity[i])
		}
	}
	return out, nil
}

func (m *memStore) ListComments(_ context.Context, cardID uuid.UUID) ([]model.Comment, error) {
	var out []model.Comment
	for _, c := range m.comments {
		if c.CardID == cardID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// memTx is the BoardTx view of a memStore inside WithinTx.
type memTx struct{ m *memStore }

func (t *memTx) AppendActivity(_ context.Context, e model.ActivityEntry) error {
	if t.m.activityErr != nil {
		return t.m.activityErr
	}
	e.CreatedAt = time.Now()
	t.m.activity = append(t.m.activity, e)
	return nil
}

func (t *memTx) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	return t.m.GetCard(ctx, id)
}

func (t *memTx) GetColumn(_ context.Context, id uuid.UUID) (*model.Column, error) {
	c, ok := t.m.columns[id]
	if !ok {
		return nil, errs.NotFound("column")
	}
	return &c, nil
}

func (t *memTx) CardSiblings(_ context.Context, columnID uuid.UUID) ([]ordering.Sibling, error) {
	var out []ordering.Sibling
	for _, c := range t.m.cards {
		if c.ColumnID == columnID {
			out = append(out, ordering.Sibling{ID: c.ID, Order: c.Order})
		}
	}
	ordering.Sort(out)
	return out, nil
}

func (t *memTx) ColumnSiblings(_ context.Context, boardID uuid.UUID) ([]ordering.Sibling, error) {
	var out []ordering.Sibling
	for _, c := range t.m.columns {
		if c.BoardID == boardID {
			out = append(out, ordering.Sibling{ID: c.ID, Order: c.Order})
		}
	}
	ordering.Sort(out)
	return out, nil
}

func (t *memTx) SetCardPosition(_ context.Context, cardID, columnID uuid.UUID, order int64) error {
	c, ok := t.m.cards[cardID]
	if !ok {
		return errs.NotFound("card")
	}
	c.ColumnID, c.Order = columnID, order
	t.m.cards[cardID] = c
	t.m.writes++
	return nil
}

func (t *memTx) SetColumnOrder(_ context.Context, columnID uuid.UUID, order int64) error {
	c, ok := t.m.columns[columnID]
	if !ok {
		return errs.NotFound("column")
	}
	c.Order = order
	t.m.columns[columnID] = c
	t.m.writes++
	return nil
}

func (t *memTx) InsertCard(_ context.Context, c *model.Card) error {
	if _, ok := t.m.columns[c.ColumnID]; !ok {
		return errs.NotFound("column")
	}
	c.UpdatedAt = time.Now()
	t.m.cards[c.ID] = *c
	t.m.writes++
	return nil
}

func (t *memTx) UpdateCardFields(_ context.Context, id uuid.UUID, p model.CardPatch) error {
	c, ok := t.m.cards[id]
	if !ok {
		return errs.NotFound("card")
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.DueDate.Set {
		c.DueDate = p.DueDate.Ptr()
	}
	if p.Weight.Set {
		c.Weight = p.Weight.Ptr()
	}
	t.m.cards[id] = c
	t.m.writes++
	return nil
}

func (t *memTx) AddCardLabels(_ context.Context, cardID, boardID uuid.UUID, labelIDs []uuid.UUID) error {
	c := t.m.cards[cardID]
	for _, l := range labelIDs {
		if t.m.labels[l] != boardID {
			return errs.Validation("label does not belong to the board")
		}
		c.LabelIDs = append(c.LabelIDs, l)
	}
	t.m.cards[cardID] = c
	return nil
}

func (t *memTx) RemoveCardLabels(_ context.Context, cardID uuid.UUID, labelIDs []uuid.UUID) error {
	c := t.m.cards[cardID]
	c.LabelIDs = removeIDs(c.LabelIDs, labelIDs)
	t.m.cards[cardID] = c
	return nil
}

func (t *memTx) AddAssignees(_ context.Context, cardID uuid.UUID, userIDs []uuid.UUID) error {
	c := t.m.cards[cardID]
	c.AssigneeIDs = append(c.AssigneeIDs, userIDs...)
	t.m.cards[cardID] = c
	return nil
}

func (t *memTx) RemoveAssignees(_ context.Context, cardID uuid.UUID, userIDs []uuid.UUID) error {
	c := t.m.cards[cardID]
	c.AssigneeIDs = removeIDs(c.AssigneeIDs, userIDs)
	t.m.cards[cardID] = c
	return nil
}

func removeIDs(in, drop []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range in {
		keep := true
		for _, d := range drop {
			if d == id {
				keep = false
			}
		}
		if keep {
			out = append(out, id)
		}
	}
	return out
}

func (t *memTx) DeleteCard(_ context.Context, id uuid.UUID) error {
	if _, ok := t.m.cards[id]; !ok {
		return errs.NotFound("card")
	}
	delete(t.m.cards, id)
	var kept []model.ActivityEntry
	for _, e := range t.m.activity {
		if e.CardID != id {
			kept = append(kept, e)
		}
	}
	t.m.activity = kept
	t.m.writes++
	return nil
}

func (t *memTx) InsertComment(_ context.Context, c *model.Comment) error {
	if _, ok := t.m.cards[c.CardID]; !ok {
		return errs.NotFound("card")
	}
	c.CreatedAt = time.Now()
	t.m.comments = append(t.m.comments, *c)
	return nil
}

func (t *memTx) InsertColumn(_ context.Context, c *model.Column) error {
	t.m.columns[c.ID] = *c
	t.m.writes++
	return nil
}

func (t *memTx) UpdateColumnFields(_ context.Context, id uuid.UUID, p model.ColumnPatch) error {
	c, ok := t.m.columns[id]
	if !ok {
		return errs.NotFound("column")
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Width != nil {
		c.Width = *p.Width
	}
	t.m.columns[id] = c
	t.m.writes++
	return nil
}

func (t *memTx) DeleteColumn(_ context.Context, id uuid.UUID) error {
	if _, ok := t.m.columns[id]; !ok {
		return errs.NotFound("column")
	}
	delete(t.m.columns, id)
	for cid, c := range t.m.cards {
		if c.ColumnID == id {
			delete(t.m.cards, cid)
		}
	}
	t.m.writes++
	return nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// sleepRecorder replaces the retry timer and records requested delays.
type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testDeps(m *memStore, pub *recordingPublisher, sl *sleepRecorder) Deps {
	return Deps{
		Reader: m,
		Tx:     m,
		Retry:  retry.Policy{BaseDelay: 10 * time.Millisecond, Sleep: sl.Sleep},
		Events: pub,
	}
}
