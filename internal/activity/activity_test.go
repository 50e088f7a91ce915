package activity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/kanban-keeper/internal/model"
)

type fakeWriter struct {
	entries []model.ActivityEntry
	err     error
}

func (f *fakeWriter) AppendActivity(_ context.Context, e model.ActivityEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func TestRecord_AppendsEntry(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	r := NewRecorder(zap.NewNop(), 0)
	card := uuid.Must(uuid.NewV4())
	user := uuid.Must(uuid.NewV4())

	ok := r.Record(context.Background(), w, Entry{
		CardID:  card,
		UserID:  &user,
		Action:  model.ActionCardMoved,
		Details: map[string]any{"fromOrder": 1000, "toOrder": 500},
	})
	require.True(t, ok)
	require.Len(t, w.entries, 1)
	require.Equal(t, card, w.entries[0].CardID)
	require.Equal(t, &user, w.entries[0].UserID)
	require.JSONEq(t, `{"fromOrder":1000,"toOrder":500}`, string(w.entries[0].Details))
	require.NotEqual(t, uuid.Nil, w.entries[0].ID)
}

func TestRecord_SystemActionWithoutUser(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	r := NewRecorder(nil, 0)
	require.True(t, r.Record(context.Background(), w, Entry{CardID: uuid.Must(uuid.NewV4()), Action: model.ActionCardCreated}))
	require.Nil(t, w.entries[0].UserID)
	require.Equal(t, "{}", string(w.entries[0].Details))
}

func TestRecord_WriterFailureIsSwallowedAndLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRecorder(zap.New(core), 0)
	w := &fakeWriter{err: errors.New("insert failed")}

	ok := r.Record(context.Background(), w, Entry{CardID: uuid.Must(uuid.NewV4()), Action: model.ActionCardUpdated})
	require.False(t, ok)
	require.Equal(t, 1, logs.FilterMessage("activity append failed").Len())
}

func TestRecord_RejectsOversizedDetails(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	r := NewRecorder(zap.NewNop(), 64)
	ok := r.Record(context.Background(), w, Entry{
		CardID:  uuid.Must(uuid.NewV4()),
		Action:  model.ActionCardUpdated,
		Details: map[string]string{"description": strings.Repeat("x", 100)},
	})
	require.False(t, ok)
	require.Empty(t, w.entries)
}

func TestPrepare_RejectsUnknownAction(t *testing.T) {
	t.Parallel()

	r := NewRecorder(zap.NewNop(), 0)
	_, err := r.Prepare(Entry{CardID: uuid.Must(uuid.NewV4()), Action: "card_archived"})
	require.Error(t, err)

	_, err = r.Prepare(Entry{Action: model.ActionCardCreated})
	require.Error(t, err)
}
