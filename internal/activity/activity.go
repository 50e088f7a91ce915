// Package activity appends card activity entries as an isolated side effect of
// mutations. Recording never fails the caller: every problem is logged and dropped.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/model"
)

// DefaultMaxDetailsBytes bounds the serialized details payload.
const DefaultMaxDetailsBytes = 8 << 10

// Writer persists a prepared entry, typically inside the mutation's transaction.
type Writer interface {
	AppendActivity(ctx context.Context, e model.ActivityEntry) error
}

// Entry is an activity record before serialization.
type Entry struct {
	CardID  uuid.UUID
	UserID  *uuid.UUID
	Action  model.ActionType
	Details any
}

// Recorder validates and appends entries.
type Recorder struct {
	log      *zap.Logger
	maxBytes int
}

// NewRecorder constructs a recorder. maxBytes <= 0 selects DefaultMaxDetailsBytes.
func NewRecorder(log *zap.Logger, maxBytes int) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDetailsBytes
	}
	return &Recorder{log: log, maxBytes: maxBytes}
}

// Prepare validates e and serializes its details.
func (r *Recorder) Prepare(e Entry) (model.ActivityEntry, error) {
	if !e.Action.IsValid() {
		return model.ActivityEntry{}, fmt.Errorf("unknown action %q", e.Action)
	}
	if e.CardID == uuid.Nil {
		return model.ActivityEntry{}, fmt.Errorf("empty card id")
	}
	details := []byte("{}")
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return model.ActivityEntry{}, fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}
	if len(details) > r.maxBytes {
		return model.ActivityEntry{}, fmt.Errorf("details too large (%d > %d bytes)", len(details), r.maxBytes)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.ActivityEntry{}, err
	}
	return model.ActivityEntry{
		ID:      id,
		CardID:  e.CardID,
		UserID:  e.UserID,
		Action:  e.Action,
		Details: details,
	}, nil
}

// Record appends e through w and reports whether it was stored.
func (r *Recorder) Record(ctx context.Context, w Writer, e Entry) bool {
	entry, err := r.Prepare(e)
	if err != nil {
		r.log.Warn("activity rejected",
			zap.String("action", string(e.Action)),
			zap.Stringer("card", e.CardID),
			zap.Error(err),
		)
		return false
	}
	if err := w.AppendActivity(ctx, entry); err != nil {
		r.log.Warn("activity append failed",
			zap.String("action", string(e.Action)),
			zap.Stringer("card", e.CardID),
			zap.Error(err),
		)
		return false
	}
	return true
}
