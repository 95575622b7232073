// Package backend picks a storage adapter from a DATABASE_URL.
package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/repo"
	"github.com/hamed0406/statuspage/internal/repo/memory"
	"github.com/hamed0406/statuspage/internal/repo/postgres"
	"github.com/hamed0406/statuspage/internal/repo/sqlite"
)

type Store interface {
	repo.DomainStore
	repo.CheckStore
	repo.ResultStore
	repo.AlertStore
	Close()
}

// Open returns the adapter named by dsn and its kind:
//
//	""                       memory
//	postgres://, postgresql:// postgres (schema applied)
//	sqlite://path, file:path sqlite
func Open(ctx context.Context, dsn string, log *zap.Logger) (Store, string, error) {
	switch {
	case dsn == "":
		return memory.New(), "memory", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := postgres.New(ctx, dsn, log)
		if err != nil {
			return nil, "", err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, "", err
		}
		return s, "postgres", nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "file:")
		s, err := sqlite.Open(ctx, path, log)
		if err != nil {
			return nil, "", err
		}
		return s, "sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported DATABASE_URL scheme in %q", redact(dsn))
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	return "..."
}
