package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Temporary identifier prefixes. A temp id never reaches persistence.
const (
	TempPrefix       = "temp_"
	TempCardPrefix   = "temp_card_"
	TempColumnPrefix = "temp_column_"
)

// IsTempID reports whether id is a client-generated placeholder.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempPrefix) }

// Optional is a JSON field that distinguishes absent, null and set values.
type Optional[T any] struct {
	Set   bool // key present in the document
	Null  bool // key present with a null value
	Value T
}

// Some returns a set, non-null optional.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

// Null returns a set, null optional.
func Null[T any]() Optional[T] { return Optional[T]{Set: true, Null: true} }

// UnmarshalJSON implements json.Unmarshaler. Absent keys never call it.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(b, &o.Value)
}

// MarshalJSON implements json.Marshaler.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Ptr returns nil for null, otherwise a pointer to the value.
func (o Optional[T]) Ptr() *T {
	if o.Null {
		return nil
	}
	v := o.Value
	return &v
}

// NewCard is a card creation intent.
type NewCard struct {
	ColumnID    uuid.UUID
	Title       string
	Description string
	Priority    Priority
	DueDate     *time.Time
	Weight      *int
}

// CardPatch is a partial card update. Nil pointers and unset optionals are untouched.
type CardPatch struct {
	Title             *string
	Description       *string
	Priority          *Priority
	DueDate           Optional[time.Time]
	Weight            Optional[int]
	LabelIDsToAdd     []uuid.UUID
	LabelIDsToRemove  []uuid.UUID
	AssigneesToAdd    []uuid.UUID
	AssigneesToRemove []uuid.UUID
}

// HasFieldChanges reports whether any scalar field is being updated.
func (p CardPatch) HasFieldChanges() bool {
	return p.Title != nil || p.Description != nil || p.Priority != nil || p.DueDate.Set || p.Weight.Set
}

// IsEmpty reports whether the patch changes nothing.
func (p CardPatch) IsEmpty() bool {
	return !p.HasFieldChanges() && len(p.LabelIDsToAdd) == 0 && len(p.LabelIDsToRemove) == 0 &&
		len(p.AssigneesToAdd) == 0 && len(p.AssigneesToRemove) == 0
}

// NewColumn is a column creation intent.
type NewColumn struct {
	BoardID uuid.UUID
	Title   string
	Width   int
}

// ColumnPatch is a partial column update.
type ColumnPatch struct {
	Title *string
	Width *int
}

// IsEmpty reports whether the patch changes nothing.
func (p ColumnPatch) IsEmpty() bool { return p.Title == nil && p.Width == nil }

// MoveCard is a card relocation intent. TargetColumnID may be a temp id. Order is
// the target index among the destination column's other cards.
type MoveCard struct {
	TargetColumnID string
	Order          int64
}

// NewBoard is a board creation intent.
type NewBoard struct {
	Title    string
	Theme    Theme
	IsPublic bool
}
