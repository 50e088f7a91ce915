package repository

import (
	"context"

	"github.com/and161185/kanban-keeper/internal/activity"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/ordering"
	"github.com/gofrs/uuid/v5"
)

// BoardReader serves reads and access checks outside of mutation transactions.
type BoardReader interface {
	// CreateBoard inserts a board owned by b.OwnerID.
	CreateBoard(ctx context.Context, b *model.Board) error
	// ListBoards returns boards the user owns or is a member of.
	ListBoards(ctx context.Context, userID uuid.UUID) ([]model.Board, error)
	// GetBoardView returns a board with columns and cards in display order.
	GetBoardView(ctx context.Context, boardID uuid.UUID) (*model.BoardView, error)
	// BoardRole returns the user's effective role, or "" when the user has no access.
	BoardRole(ctx context.Context, boardID, userID uuid.UUID) (model.Role, error)
	// ColumnBoard returns the board owning a column.
	ColumnBoard(ctx context.Context, columnID uuid.UUID) (uuid.UUID, error)
	// CardBoard returns the board owning a card.
	CardBoard(ctx context.Context, cardID uuid.UUID) (uuid.UUID, error)
	// GetCard returns a card with its label and assignee ids.
	GetCard(ctx context.Context, cardID uuid.UUID) (*model.Card, error)
	// ListActivity returns the newest entries of a card first.
	ListActivity(ctx context.Context, cardID uuid.UUID, limit int) ([]model.ActivityEntry, error)
	// ListComments returns a card's comments oldest first.
	ListComments(ctx context.Context, cardID uuid.UUID) ([]model.Comment, error)
	// Ping checks storage reachability.
	Ping(ctx context.Context) error
}

// BoardTx is the set of reads and writes available inside a mutation transaction.
// Reads observe the transaction's snapshot.
type BoardTx interface {
	activity.Writer

	// GetCard loads a card's scalar fields.
	GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error)
	// GetColumn loads a column.
	GetColumn(ctx context.Context, id uuid.UUID) (*model.Column, error)
	// CardSiblings returns id and order of every card in a column.
	CardSiblings(ctx context.Context, columnID uuid.UUID) ([]ordering.Sibling, error)
	// ColumnSiblings returns id and order of every column in a board.
	ColumnSiblings(ctx context.Context, boardID uuid.UUID) ([]ordering.Sibling, error)
	// SetCardPosition writes a card's parent column and order.
	SetCardPosition(ctx context.Context, cardID, columnID uuid.UUID, order int64) error
	// SetColumnOrder writes a column's order.
	SetColumnOrder(ctx context.Context, columnID uuid.UUID, order int64) error

	// InsertCard creates a card.
	InsertCard(ctx context.Context, c *model.Card) error
	// UpdateCardFields applies the scalar part of a patch.
	UpdateCardFields(ctx context.Context, id uuid.UUID, p model.CardPatch) error
	// AddCardLabels attaches board labels to a card.
	AddCardLabels(ctx context.Context, cardID, boardID uuid.UUID, labelIDs []uuid.UUID) error
	// RemoveCardLabels detaches labels from a card.
	RemoveCardLabels(ctx context.Context, cardID uuid.UUID, labelIDs []uuid.UUID) error
	// AddAssignees assigns users to a card.
	AddAssignees(ctx context.Context, cardID uuid.UUID, userIDs []uuid.UUID) error
	// RemoveAssignees unassigns users from a card.
	RemoveAssignees(ctx context.Context, cardID uuid.UUID, userIDs []uuid.UUID) error
	// DeleteCard removes a card; its activity cascades.
	DeleteCard(ctx context.Context, id uuid.UUID) error
	// InsertComment adds a comment to a card.
	InsertComment(ctx context.Context, c *model.Comment) error

	// InsertColumn creates a column.
	InsertColumn(ctx context.Context, c *model.Column) error
	// UpdateColumnFields applies a column patch.
	UpdateColumnFields(ctx context.Context, id uuid.UUID, p model.ColumnPatch) error
	// DeleteColumn removes a column and its cards.
	DeleteColumn(ctx context.Context, id uuid.UUID) error
}

// TxRunner runs work inside an isolated transaction and knows which of its own
// failures are transient conflicts worth retrying.
type TxRunner interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx BoardTx) error) error
	// IsTransient reports whether err is a serialization failure, deadlock or lock
	// timeout detected by the store.
	IsTransient(err error) bool
}
