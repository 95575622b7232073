package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS domains (
  id         BIGSERIAL PRIMARY KEY,
  name       TEXT NOT NULL UNIQUE,
  owner      TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checks (
  id        BIGSERIAL PRIMARY KEY,
  domain_id BIGINT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
  path      TEXT NOT NULL DEFAULT '/',
  protocol  TEXT NOT NULL CHECK (protocol IN ('http','https')),
  method    TEXT NOT NULL CHECK (method IN ('get','post','put','delete','head')),
  is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS results (
  id            BIGSERIAL PRIMARY KEY,
  check_id      BIGINT NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
  checked_on    TIMESTAMPTZ NOT NULL,
  status_code   INTEGER NULL,
  response_time DOUBLE PRECISION NULL,
  response_body TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS alerts (
  domain       TEXT PRIMARY KEY,
  last_status  TEXT NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_domain       ON checks (domain_id);
CREATE INDEX IF NOT EXISTS idx_results_check_time  ON results (check_id, checked_on DESC);
`

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
