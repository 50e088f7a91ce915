// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	CreatedAt time.Time
}

// Theme is the board colour scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// IsValid reports whether t is a known theme.
func (t Theme) IsValid() bool { return t == ThemeLight || t == ThemeDark }

// Role is a board membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanWrite reports whether the role may mutate board content.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleEditor
}

// Priority is a card priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Board is the top-level container of ordered columns.
type Board struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Theme     Theme     `json:"theme"`
	OwnerID   uuid.UUID `json:"ownerId"`
	IsPublic  bool      `json:"isPublic"`
	Members   []Member  `json:"members,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is a user's membership in a board.
type Member struct {
	UserID uuid.UUID `json:"userId"`
	Role   Role      `json:"role"`
}

// Column is an ordered child of a board.
type Column struct {
	ID      uuid.UUID `json:"id"`
	BoardID uuid.UUID `json:"boardId"`
	Title   string    `json:"title"`
	Width   int       `json:"width"`
	Order   int64     `json:"order"`
}

// Card is an ordered child of a column.
type Card struct {
	ID          uuid.UUID   `json:"id"`
	ColumnID    uuid.UUID   `json:"columnId"`
	BoardID     uuid.UUID   `json:"boardId"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Priority    Priority    `json:"priority"`
	DueDate     *time.Time  `json:"dueDate"`
	Weight      *int        `json:"weight"`
	Order       int64       `json:"order"`
	LabelIDs    []uuid.UUID `json:"labelIds"`
	AssigneeIDs []uuid.UUID `json:"assigneeIds"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Label is a board-scoped tag attachable to cards.
type Label struct {
	ID      uuid.UUID `json:"id"`
	BoardID uuid.UUID `json:"boardId"`
	Name    string    `json:"name"`
	Color   string    `json:"color"`
}

// Comment is a user note on a card.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	CardID    uuid.UUID `json:"cardId"`
	AuthorID  uuid.UUID `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment is file metadata on a card; content lives in external storage.
type Attachment struct {
	ID        uuid.UUID `json:"id"`
	CardID    uuid.UUID `json:"cardId"`
	FileName  string    `json:"fileName"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActionType is the closed set of activity actions.
type ActionType string

const (
	ActionCardCreated     ActionType = "card_created"
	ActionCardUpdated     ActionType = "card_updated"
	ActionCardMoved       ActionType = "card_moved"
	ActionCardDeleted     ActionType = "card_deleted"
	ActionLabelAdded      ActionType = "label_added"
	ActionLabelRemoved    ActionType = "label_removed"
	ActionAssigneeAdded   ActionType = "assignee_added"
	ActionAssigneeRemoved ActionType = "assignee_removed"
	ActionCommentAdded    ActionType = "comment_added"
	ActionAttachmentAdded ActionType = "attachment_added"
)

// IsValid reports whether a is a member of the closed enumeration.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionCardCreated, ActionCardUpdated, ActionCardMoved, ActionCardDeleted,
		ActionLabelAdded, ActionLabelRemoved, ActionAssigneeAdded, ActionAssigneeRemoved,
		ActionCommentAdded, ActionAttachmentAdded:
		return true
	}
	return false
}

// ActivityEntry is an append-only record of a card mutation.
type ActivityEntry struct {
	ID        uuid.UUID       `json:"id"`
	CardID    uuid.UUID       `json:"cardId"`
	UserID    *uuid.UUID      `json:"userId,omitempty"` // nil for system actions
	Action    ActionType      `json:"action"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"createdAt"`
}

// BoardView is a board with its columns and cards in display order.
type BoardView struct {
	Board   Board        `json:"board"`
	Columns []ColumnView `json:"columns"`
	Labels  []Label      `json:"labels"`
}

// ColumnView is a column with its cards in display order.
type ColumnView struct {
	Column
	Cards []Card `json:"cards"`
}
