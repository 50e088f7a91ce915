package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/repository"
)

// Store implements BoardReader and TxRunner using PostgreSQL.
type Store struct{ db *DB }

// NewStore constructs a board store.
func NewStore(db *DB) *Store { return &Store{db: db} }

var (
	_ repository.BoardReader = (*Store)(nil)
	_ repository.TxRunner    = (*Store)(nil)
)

// WithinTx runs fn in a SERIALIZABLE transaction. Conflicts between concurrent
// writers surface as errors for which IsTransient reports true, either from a
// statement or from the commit itself.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.BoardTx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()
	return fn(ctx, &txRepo{tx: tx})
}

// IsTransient implements repository.TxRunner.
func (s *Store) IsTransient(err error) bool { return IsTransientConflict(err) }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.Pool.Ping(ctx) }

// CreateBoard inserts a board.
func (s *Store) CreateBoard(ctx context.Context, b *model.Board) error {
	const q = `
INSERT INTO boards (id, title, theme, owner_id, is_public)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	err := s.db.Pool.QueryRow(ctx, q, b.ID, b.Title, string(b.Theme), b.OwnerID, b.IsPublic).Scan(&b.CreatedAt)
	if isForeignKeyViolation(err) {
		return errs.NotFound("user")
	}
	return err
}

// ListBoards returns boards the user owns or is a member of.
func (s *Store) ListBoards(ctx context.Context, userID uuid.UUID) ([]model.Board, error) {
	const q = `
SELECT b.id, b.title, b.theme, b.owner_id, b.is_public, b.created_at
FROM boards b
WHERE b.owner_id=$1
   OR EXISTS (SELECT 1 FROM board_members m WHERE m.board_id=b.id AND m.user_id=$1)
ORDER BY b.created_at ASC`
	rows, err := s.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Board{}
	for rows.Next() {
		var (
			b     model.Board
			theme string
		)
		if err := rows.Scan(&b.ID, &b.Title, &theme, &b.OwnerID, &b.IsPublic, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Theme = model.Theme(theme)
		out = append(out, b)
	}
	return out, rows.Err()
}

// BoardRole resolves the effective role of userID on boardID.
func (s *Store) BoardRole(ctx context.Context, boardID, userID uuid.UUID) (model.Role, error) {
	const q = `
SELECT b.owner_id, b.is_public, m.role
FROM boards b
LEFT JOIN board_members m ON m.board_id=b.id AND m.user_id=$2
WHERE b.id=$1`
	var (
		owner    uuid.UUID
		isPublic bool
		role     *string
	)
	if err := s.db.Pool.QueryRow(ctx, q, boardID, userID).Scan(&owner, &isPublic, &role); err != nil {
		return "", notFound(err, "board")
	}
	switch {
	case owner == userID:
		return model.RoleOwner, nil
	case role != nil:
		return model.Role(*role), nil
	case isPublic:
		return model.RoleViewer, nil
	}
	return "", nil
}

// ColumnBoard returns the board owning a column.
func (s *Store) ColumnBoard(ctx context.Context, columnID uuid.UUID) (uuid.UUID, error) {
	var boardID uuid.UUID
	err := s.db.Pool.QueryRow(ctx, `SELECT board_id FROM columns WHERE id=$1`, columnID).Scan(&boardID)
	if err != nil {
		return uuid.Nil, notFound(err, "column")
	}
	return boardID, nil
}

// CardBoard returns the board owning a card.
func (s *Store) CardBoard(ctx context.Context, cardID uuid.UUID) (uuid.UUID, error) {
	const q = `SELECT col.board_id FROM cards c JOIN columns col ON col.id=c.column_id WHERE c.id=$1`
	var boardID uuid.UUID
	if err := s.db.Pool.QueryRow(ctx, q, cardID).Scan(&boardID); err != nil {
		return uuid.Nil, notFound(err, "card")
	}
	return boardID, nil
}

const cardSelect = `
SELECT c.id, c.column_id, col.board_id, c.title, c.description, c.priority,
       c.due_date, c.weight, c.position, c.updated_at,
       ARRAY(SELECT cl.label_id::text FROM card_labels cl WHERE cl.card_id=c.id ORDER BY cl.label_id),
       ARRAY(SELECT ca.user_id::text FROM card_assignees ca WHERE ca.card_id=c.id ORDER BY ca.user_id)
FROM cards c
JOIN columns col ON col.id=c.column_id`

// GetCard returns a card with label and assignee ids.
func (s *Store) GetCard(ctx context.Context, cardID uuid.UUID) (*model.Card, error) {
	row := s.db.Pool.QueryRow(ctx, cardSelect+` WHERE c.id=$1`, cardID)
	c, err := scanCard(row)
	if err != nil {
		return nil, notFound(err, "card")
	}
	return c, nil
}

// GetBoardView loads a board with its columns and cards in display order.
func (s *Store) GetBoardView(ctx context.Context, boardID uuid.UUID) (*model.BoardView, error) {
	view := &model.BoardView{Columns: []model.ColumnView{}, Labels: []model.Label{}}

	const qb = `SELECT id, title, theme, owner_id, is_public, created_at FROM boards WHERE id=$1`
	var theme string
	b := &view.Board
	if err := s.db.Pool.QueryRow(ctx, qb, boardID).Scan(&b.ID, &b.Title, &theme, &b.OwnerID, &b.IsPublic, &b.CreatedAt); err != nil {
		return nil, notFound(err, "board")
	}
	b.Theme = model.Theme(theme)

	members, err := s.members(ctx, boardID)
	if err != nil {
		return nil, err
	}
	b.Members = members

	const qc = `SELECT id, board_id, title, width, position FROM columns WHERE board_id=$1 ORDER BY position, id`
	rows, err := s.db.Pool.Query(ctx, qc, boardID)
	if err != nil {
		return nil, err
	}
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var col model.ColumnView
		if err := rows.Scan(&col.ID, &col.BoardID, &col.Title, &col.Width, &col.Order); err != nil {
			rows.Close()
			return nil, err
		}
		col.Cards = []model.Card{}
		index[col.ID] = len(view.Columns)
		view.Columns = append(view.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Pool.Query(ctx, cardSelect+` WHERE col.board_id=$1 ORDER BY c.column_id, c.position, c.id`, boardID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[c.ColumnID]; ok {
			view.Columns[i].Cards = append(view.Columns[i].Cards, *c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const ql = `SELECT id, board_id, name, color FROM labels WHERE board_id=$1 ORDER BY name, id`
	rows, err = s.db.Pool.Query(ctx, ql, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l model.Label
		if err := rows.Scan(&l.ID, &l.BoardID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		view.Labels = append(view.Labels, l)
	}
	return view, rows.Err()
}

func (s *Store) members(ctx context.Context, boardID uuid.UUID) ([]model.Member, error) {
	const q = `SELECT user_id, role FROM board_members WHERE board_id=$1 ORDER BY user_id`
	rows, err := s.db.Pool.Query(ctx, q, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Member
	for rows.Next() {
		var (
			m    model.Member
			role string
		)
		if err := rows.Scan(&m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListActivity returns up to limit newest activity entries of a card.
func (s *Store) ListActivity(ctx context.Context, cardID uuid.UUID, limit int) ([]model.ActivityEntry, error) {
	const q = `
SELECT id, card_id, user_id, action, details, created_at
FROM activity_logs
WHERE card_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := s.db.Pool.Query(ctx, q, cardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ActivityEntry{}
	for rows.Next() {
		var (
			e       model.ActivityEntry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.CardID, &e.UserID, &action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = model.ActionType(action)
		e.Details = details
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListComments returns a card's comments oldest first.
func (s *Store) ListComments(ctx context.Context, cardID uuid.UUID) ([]model.Comment, error) {
	const q = `
SELECT id, card_id, author_id, body, created_at
FROM comments WHERE card_id=$1
ORDER BY created_at ASC, id ASC`
	rows, err := s.db.Pool.Query(ctx, q, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.CardID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(row pgx.Row) (*model.Card, error) {
	var (
		c         model.Card
		priority  string
		due       *time.Time
		weight    *int32
		labels    []string
		assignees []string
	)
	if err := row.Scan(&c.ID, &c.ColumnID, &c.BoardID, &c.Title, &c.Description, &priority,
		&due, &weight, &c.Order, &c.UpdatedAt, &labels, &assignees); err != nil {
		return nil, err
	}
	c.Priority = model.Priority(priority)
	c.DueDate = due
	if weight != nil {
		w := int(*weight)
		c.Weight = &w
	}
	var err error
	if c.LabelIDs, err = parseIDs(labels); err != nil {
		return nil, err
	}
	if c.AssigneeIDs, err = parseIDs(assignees); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseIDs(in []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := uuid.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
