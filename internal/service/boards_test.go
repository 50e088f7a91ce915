package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
)

func TestBoardService(t *testing.T) {
	m := newMemStore()
	svc := NewBoardService(testDeps(m, &recordingPublisher{}, &sleepRecorder{}))
	ctx := context.Background()
	owner := newUUID()

	b, err := svc.Create(ctx, owner, model.NewBoard{Title: " Roadmap "})
	require.NoError(t, err)
	require.Equal(t, "Roadmap", b.Title)
	require.Equal(t, model.ThemeLight, b.Theme)

	_, err = svc.Create(ctx, owner, model.NewBoard{Title: "x", Theme: "neon"})
	require.ErrorIs(t, err, errs.ErrValidation)

	list, err := svc.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)

	col := m.addColumn(b.ID, 1000)
	m.addCard(col, "second", 2000)
	m.addCard(col, "first", 1000)

	v, err := svc.View(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Len(t, v.Columns, 1)
	require.Equal(t, "first", v.Columns[0].Cards[0].Title)
	require.Equal(t, "second", v.Columns[0].Cards[1].Title)

	_, err = svc.View(ctx, newUUID(), b.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = svc.View(ctx, owner, newUUID())
	require.ErrorIs(t, err, errs.ErrNotFound)
}
