package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/ordering"
	"github.com/and161185/kanban-keeper/internal/repository"
)

// txRepo implements repository.BoardTx on top of an open transaction.
type txRepo struct{ tx pgx.Tx }

var _ repository.BoardTx = (*txRepo)(nil)

func (r *txRepo) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	c, err := scanCard(r.tx.QueryRow(ctx, cardSelect+` WHERE c.id=$1`, id))
	if err != nil {
		return nil, notFound(err, "card")
	}
	return c, nil
}

func (r *txRepo) GetColumn(ctx context.Context, id uuid.UUID) (*model.Column, error) {
	const q = `SELECT id, board_id, title, width, position FROM columns WHERE id=$1`
	var c model.Column
	if err := r.tx.QueryRow(ctx, q, id).Scan(&c.ID, &c.BoardID, &c.Title, &c.Width, &c.Order); err != nil {
		return nil, notFound(err, "column")
	}
	return &c, nil
}

func (r *txRepo) CardSiblings(ctx context.Context, columnID uuid.UUID) ([]ordering.Sibling, error) {
	return r.siblings(ctx, `SELECT id, position FROM cards WHERE column_id=$1 ORDER BY position, id`, columnID)
}

func (r *txRepo) ColumnSiblings(ctx context.Context, boardID uuid.UUID) ([]ordering.Sibling, error) {
	return r.siblings(ctx, `SELECT id, position FROM columns WHERE board_id=$1 ORDER BY position, id`, boardID)
}

func (r *txRepo) siblings(ctx context.Context, q string, parent uuid.UUID) ([]ordering.Sibling, error) {
	rows, err := r.tx.Query(ctx, q, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ordering.Sibling
	for rows.Next() {
		var s ordering.Sibling
		if err := rows.Scan(&s.ID, &s.Order); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepo) SetCardPosition(ctx context.Context, cardID, columnID uuid.UUID, order int64) error {
	const q = `UPDATE cards SET column_id=$2, position=$3, updated_at=now() WHERE id=$1`
	ct, err := r.tx.Exec(ctx, q, cardID, columnID, order)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("card")
	}
	return nil
}

func (r *txRepo) SetColumnOrder(ctx context.Context, columnID uuid.UUID, order int64) error {
	ct, err := r.tx.Exec(ctx, `UPDATE columns SET position=$2 WHERE id=$1`, columnID, order)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("column")
	}
	return nil
}

func (r *txRepo) InsertCard(ctx context.Context, c *model.Card) error {
	const q = `
INSERT INTO cards (id, column_id, title, description, priority, due_date, weight, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING updated_at`
	err := r.tx.QueryRow(ctx, q, c.ID, c.ColumnID, c.Title, c.Description, string(c.Priority),
		c.DueDate, c.Weight, c.Order).Scan(&c.UpdatedAt)
	if isForeignKeyViolation(err) {
		return errs.NotFound("column")
	}
	return err
}

func (r *txRepo) UpdateCardFields(ctx context.Context, id uuid.UUID, p model.CardPatch) error {
	sets := []string{"updated_at=now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Priority != nil {
		add("priority", string(*p.Priority))
	}
	if p.DueDate.Set {
		add("due_date", p.DueDate.Ptr())
	}
	if p.Weight.Set {
		add("weight", p.Weight.Ptr())
	}

	q := "UPDATE cards SET " + strings.Join(sets, ", ") + " WHERE id=$1"
	ct, err := r.tx.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("card")
	}
	return nil
}

func (r *txRepo) AddCardLabels(ctx context.Context, cardID, boardID uuid.UUID, labelIDs []uuid.UUID) error {
	ids := idStrings(uniqueIDs(labelIDs))
	if len(ids) == 0 {
		return nil
	}
	var n int
	const qc = `SELECT count(*) FROM labels WHERE board_id=$1 AND id = ANY($2::text[]::uuid[])`
	if err := r.tx.QueryRow(ctx, qc, boardID, ids).Scan(&n); err != nil {
		return err
	}
	if n != len(ids) {
		return errs.Validation("label does not belong to the board",
			errs.Issue{Path: "labelIdsToAdd", Message: "unknown label"})
	}
	const q = `
INSERT INTO card_labels (card_id, label_id)
SELECT $1, unnest($2::text[]::uuid[])
ON CONFLICT DO NOTHING`
	_, err := r.tx.Exec(ctx, q, cardID, ids)
	return err
}

func (r *txRepo) RemoveCardLabels(ctx context.Context, cardID uuid.UUID, labelIDs []uuid.UUID) error {
	if len(labelIDs) == 0 {
		return nil
	}
	const q = `DELETE FROM card_labels WHERE card_id=$1 AND label_id = ANY($2::text[]::uuid[])`
	_, err := r.tx.Exec(ctx, q, cardID, idStrings(labelIDs))
	return err
}

func (r *txRepo) AddAssignees(ctx context.Context, cardID uuid.UUID, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	const q = `
INSERT INTO card_assignees (card_id, user_id)
SELECT $1, unnest($2::text[]::uuid[])
ON CONFLICT DO NOTHING`
	_, err := r.tx.Exec(ctx, q, cardID, idStrings(uniqueIDs(userIDs)))
	if isForeignKeyViolation(err) {
		return errs.Validation("unknown assignee",
			errs.Issue{Path: "assigneesToAdd", Message: "user does not exist"})
	}
	return err
}

func (r *txRepo) RemoveAssignees(ctx context.Context, cardID uuid.UUID, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	const q = `DELETE FROM card_assignees WHERE card_id=$1 AND user_id = ANY($2::text[]::uuid[])`
	_, err := r.tx.Exec(ctx, q, cardID, idStrings(userIDs))
	return err
}

func (r *txRepo) DeleteCard(ctx context.Context, id uuid.UUID) error {
	ct, err := r.tx.Exec(ctx, `DELETE FROM cards WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("card")
	}
	return nil
}

func (r *txRepo) InsertComment(ctx context.Context, c *model.Comment) error {
	const q = `
INSERT INTO comments (id, card_id, author_id, body)
VALUES ($1, $2, $3, $4)
RETURNING created_at`
	err := r.tx.QueryRow(ctx, q, c.ID, c.CardID, c.AuthorID, c.Body).Scan(&c.CreatedAt)
	if isForeignKeyViolation(err) {
		return errs.NotFound("card")
	}
	return err
}

func (r *txRepo) InsertColumn(ctx context.Context, c *model.Column) error {
	const q = `
INSERT INTO columns (id, board_id, title, width, position)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.tx.Exec(ctx, q, c.ID, c.BoardID, c.Title, c.Width, c.Order)
	if isForeignKeyViolation(err) {
		return errs.NotFound("board")
	}
	return err
}

func (r *txRepo) UpdateColumnFields(ctx context.Context, id uuid.UUID, p model.ColumnPatch) error {
	var (
		sets []string
		args = []any{id}
	)
	if p.Title != nil {
		args = append(args, *p.Title)
		sets = append(sets, fmt.Sprintf("title=$%d", len(args)))
	}
	if p.Width != nil {
		args = append(args, *p.Width)
		sets = append(sets, fmt.Sprintf("width=$%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	ct, err := r.tx.Exec(ctx, "UPDATE columns SET "+strings.Join(sets, ", ")+" WHERE id=$1", args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("column")
	}
	return nil
}

func (r *txRepo) DeleteColumn(ctx context.Context, id uuid.UUID) error {
	ct, err := r.tx.Exec(ctx, `DELETE FROM columns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("column")
	}
	return nil
}

// AppendActivity inserts e inside a savepoint so that a failed insert leaves the
// surrounding transaction usable.
func (r *txRepo) AppendActivity(ctx context.Context, e model.ActivityEntry) error {
	if _, err := r.tx.Exec(ctx, `SAVEPOINT activity_append`); err != nil {
		return err
	}
	const q = `
INSERT INTO activity_logs (id, card_id, user_id, action, details)
VALUES ($1, $2, $3, $4, $5::jsonb)`
	if _, err := r.tx.Exec(ctx, q, e.ID, e.CardID, e.UserID, string(e.Action), string(e.Details)); err != nil {
		if _, rbErr := r.tx.Exec(ctx, `ROLLBACK TO SAVEPOINT activity_append`); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		return err
	}
	_, err := r.tx.Exec(ctx, `RELEASE SAVEPOINT activity_append`)
	return err
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
