// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/migrations"
)

// gooseLogger routes goose output through zap.
type gooseLogger struct{ s *zap.SugaredLogger }

func (l gooseLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }
func (l gooseLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }

// Up runs all pending migrations from the embedded filesystem and logs the
// resulting schema version.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{s: log.Named("goose").Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return err
	}
	log.Info("schema ready", zap.Int64("version", v))
	return nil
}
