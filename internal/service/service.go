// Package service contains application services for accounts, boards, columns and
// cards. Mutations run inside store transactions under a bounded retry policy and
// publish board events after commit.
package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/and161185/kanban-keeper/internal/activity"
	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/events"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/repository"
	"github.com/and161185/kanban-keeper/internal/retry"
)

// Deps are the collaborators shared by the board services.
type Deps struct {
	Reader   repository.BoardReader
	Tx       repository.TxRunner
	Retry    retry.Policy
	Activity *activity.Recorder
	Events   events.Publisher
	Log      *zap.Logger
}

// Text limits, counted in runes after normalisation.
const (
	maxTitleLen       = 200
	maxDescriptionLen = 10000
	maxCommentLen     = 5000
)

type core struct {
	reader repository.BoardReader
	tx     repository.TxRunner
	policy retry.Policy
	rec    *activity.Recorder
	pub    events.Publisher
	log    *zap.Logger
}

func newCore(d Deps) core {
	c := core{
		reader: d.Reader,
		tx:     d.Tx,
		policy: d.Retry,
		rec:    d.Activity,
		pub:    d.Events,
		log:    d.Log,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.rec == nil {
		c.rec = activity.NewRecorder(c.log, 0)
	}
	if c.pub == nil {
		c.pub = events.Nop{}
	}
	if c.policy.IsTransient == nil && c.tx != nil {
		c.policy.IsTransient = c.tx.IsTransient
	}
	return c
}

// inTx runs fn in a transaction, retrying the whole transaction on transient
// conflicts. fn must reset any state it captures since it may run more than once.
func (c core) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.BoardTx) error) error {
	p := c.policy
	hook := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn("transaction retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if hook != nil {
			hook(attempt, delay, err)
		}
	}
	attempts, err := p.Run(ctx, func(ctx context.Context) error {
		return c.tx.WithinTx(ctx, fn)
	})
	if errs.KindOf(err) == errs.KindStorageConflict {
		c.log.Warn("transaction retries exhausted", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
	}
	return err
}

// authorize checks that userID may read boardID, and write it when write is set.
func (c core) authorize(ctx context.Context, boardID, userID uuid.UUID, write bool) error {
	role, err := c.reader.BoardRole(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return errs.Forbidden("no access to board")
	}
	if write && !role.CanWrite() {
		return errs.Forbidden("read-only access to board")
	}
	return nil
}

// publish emits e after commit. Failures are logged only.
func (c core) publish(ctx context.Context, e events.Event) {
	if err := c.pub.Publish(ctx, e); err != nil {
		c.log.Warn("event publish failed",
			zap.String("type", string(e.Type)),
			zap.Stringer("board", e.BoardID),
			zap.Error(err),
		)
	}
}

// parseRef parses a persisted entity id. Temp ids are reported via temp.
func parseRef(raw, field string) (id uuid.UUID, temp bool, err error) {
	if model.IsTempID(raw) {
		return uuid.Nil, true, nil
	}
	id, perr := uuid.FromString(raw)
	if perr != nil || id == uuid.Nil {
		return uuid.Nil, false, errs.Validation("invalid "+field, errs.Issue{Path: field, Message: "must be a UUID"})
	}
	return id, false, nil
}

// cleanText trims and NFC-normalises user text.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// cleanBody NFC-normalises multi-line text without trimming it.
func cleanBody(s string) string { return norm.NFC.String(s) }

// checkText validates a normalised string against [minLen, maxLen] runes.
func checkText(s, field string, minLen, maxLen int) *errs.Issue {
	n := utf8.RuneCountInString(s)
	switch {
	case n < minLen && minLen == 1:
		return &errs.Issue{Path: field, Message: "must not be empty"}
	case n < minLen:
		return &errs.Issue{Path: field, Message: "too short"}
	case n > maxLen:
		return &errs.Issue{Path: field, Message: "too long"}
	}
	return nil
}

func newID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, errs.Internal(err)
	}
	return id, nil
}

// clampIndex converts a non-negative requested index to an int bounded by n.
func clampIndex(order int64, n int) int {
	if order > int64(n) {
		return n
	}
	return int(order)
}
