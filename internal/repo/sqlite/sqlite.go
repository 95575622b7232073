package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

var (
	_ repo.DomainStore = (*Store)(nil)
	_ repo.CheckStore  = (*Store)(nil)
	_ repo.ResultStore = (*Store)(nil)
	_ repo.AlertStore  = (*Store)(nil)
)

// Timestamps are stored as unix nanoseconds so range comparisons stay
// numeric regardless of how the driver would format a time.Time.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS domains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	owner TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain_id INTEGER NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	path TEXT NOT NULL DEFAULT '/',
	protocol TEXT NOT NULL,
	method TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	check_id INTEGER NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
	checked_on INTEGER NOT NULL,
	status_code INTEGER,
	response_time REAL,
	response_body TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS alerts (
	domain TEXT PRIMARY KEY,
	last_status TEXT NOT NULL,
	last_sent_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_checks_domain ON checks (domain_id);
CREATE INDEX IF NOT EXISTS idx_results_check_time ON results (check_id, checked_on);
`

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the database file at path and applies the
// schema.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil && s.log != nil {
		s.log.Warn("sqlite_close_error", zap.Error(err))
	}
}

func constraint(err error) sqlite3.ErrNoExtended {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode
	}
	return 0
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// bind converts arguments for the shared filter SQL.
func bindTo(args *[]any) func(v any) string {
	return func(v any) string {
		if t, ok := v.(time.Time); ok {
			v = nanos(t)
		}
		*args = append(*args, v)
		return "?"
	}
}

// ---- DomainStore ----

func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain, checks []domain.Check) error {
	if domain.CountActive(checks) == 0 {
		return repo.ErrNoActiveCheck
	}
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO domains(name, owner, created_at) VALUES(?, ?, ?)`,
		d.Name, d.Owner, nanos(d.CreatedAt))
	if err != nil {
		if constraint(err) == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("domain %q: %w", d.Name, repo.ErrDuplicate)
		}
		return fmt.Errorf("insert domain: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("domain id: %w", err)
	}
	d.ID = domain.DomainID(id)

	for i := range checks {
		checks[i].DomainID = d.ID
		checks[i].DomainName = d.Name
		if err := insertCheck(ctx, tx, &checks[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertCheck(ctx context.Context, tx *sql.Tx, c *domain.Check) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO checks(domain_id, path, protocol, method, is_active) VALUES(?, ?, ?, ?, ?)`,
		int64(c.DomainID), c.Path, string(c.Protocol), string(c.Method), c.Active)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("check id: %w", err)
	}
	c.ID = domain.CheckID(id)
	return nil
}

func (s *Store) GetDomain(ctx context.Context, name string) (*domain.Domain, error) {
	var (
		d       domain.Domain
		id      int64
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner, created_at FROM domains WHERE name = ?`, name,
	).Scan(&id, &d.Name, &d.Owner, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	d.ID = domain.DomainID(id)
	d.CreatedAt = fromNanos(created)
	return &d, nil
}

func (s *Store) DeleteDomain(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE domain = ?`, name); err != nil && s.log != nil {
		s.log.Warn("alert_cleanup_error", zap.String("domain", name), zap.Error(err))
	}
	return nil
}

// ---- CheckStore ----

const checkSelect = `
SELECT c.id, c.domain_id, d.name, c.path, c.protocol, c.method, c.is_active
  FROM checks c
  JOIN domains d ON d.id = c.domain_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(row scanner) (domain.Check, error) {
	var (
		c                domain.Check
		id, domainID     int64
		protocol, method string
	)
	if err := row.Scan(&id, &domainID, &c.DomainName, &c.Path, &protocol, &method, &c.Active); err != nil {
		return c, err
	}
	c.ID = domain.CheckID(id)
	c.DomainID = domain.DomainID(domainID)
	c.Protocol = domain.Protocol(protocol)
	c.Method = domain.Method(method)
	return c, nil
}

func (s *Store) GetCheck(ctx context.Context, id domain.CheckID) (*domain.Check, error) {
	c, err := scanCheck(s.db.QueryRowContext(ctx, checkSelect+` WHERE c.id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get check: %w", err)
	}
	return &c, nil
}

func (s *Store) ListChecks(ctx context.Context, f repo.CheckFilter) ([]domain.Check, error) {
	var args []any
	q := checkSelect
	if where := f.Where(bindTo(&args)); where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY d.name, c.path, c.id"
	return s.queryChecks(ctx, q, args...)
}

func (s *Store) queryChecks(ctx context.Context, q string, args ...any) ([]domain.Check, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	out := []domain.Check{}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveCheckGroup(ctx context.Context, domainName string, checks []domain.Check) ([]domain.Check, error) {
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var domainID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM domains WHERE name = ?`, domainName).Scan(&domainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find domain: %w", err)
	}

	kept := make([]any, 0, len(checks)+1)
	kept = append(kept, domainID)
	for i := range checks {
		c := &checks[i]
		c.DomainID = domain.DomainID(domainID)
		c.DomainName = domainName
		if c.ID == 0 {
			if err := insertCheck(ctx, tx, c); err != nil {
				return nil, err
			}
			kept = append(kept, int64(c.ID))
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE checks SET path = ?, protocol = ?, method = ?, is_active = ? WHERE id = ? AND domain_id = ?`,
			c.Path, string(c.Protocol), string(c.Method), c.Active, int64(c.ID), domainID)
		if err != nil {
			return nil, fmt.Errorf("update check: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("check %d: %w", c.ID, repo.ErrNotFound)
		}
		kept = append(kept, int64(c.ID))
	}

	q := `UPDATE checks SET is_active = 0 WHERE domain_id = ?`
	if len(kept) > 1 {
		q += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(kept)-1), ",") + `)`
	}
	if _, err := tx.ExecContext(ctx, q, kept...); err != nil {
		return nil, fmt.Errorf("deactivate checks: %w", err)
	}

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checks WHERE domain_id = ? AND is_active`, domainID,
	).Scan(&active); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if active == 0 {
		return nil, repo.ErrNoActiveCheck
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.queryChecks(ctx, checkSelect+` WHERE c.domain_id = ? ORDER BY c.path, c.id`, domainID)
}

func (s *Store) ActiveDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT d.name
  FROM checks c
  JOIN domains d ON d.id = c.domain_id
 WHERE c.is_active
 ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("active domains: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan domain name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, r *domain.ProbeResult) error {
	if r.CheckedOn.IsZero() {
		r.CheckedOn = time.Now()
	}
	r.CheckedOn = r.CheckedOn.UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO results(check_id, checked_on, status_code, response_time, response_body)
		VALUES(?, ?, ?, ?, ?)
	`, int64(r.CheckID), nanos(r.CheckedOn), r.StatusCode, r.ResponseTime, r.ResponseBody)
	if err != nil {
		if constraint(err) == sqlite3.ErrConstraintForeignKey {
			return fmt.Errorf("insert result for check %d: %w", r.CheckID, repo.ErrNotFound)
		}
		return fmt.Errorf("insert result: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("result id: %w", err)
	}
	return nil
}

func (s *Store) Tally(ctx context.Context, ids []domain.CheckID, since time.Time) (map[domain.CheckID]domain.Tally, error) {
	out := make(map[domain.CheckID]domain.Tally, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, nanos(since))
	for _, id := range ids {
		args = append(args, int64(id))
		out[id] = domain.Tally{}
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT check_id,
       COUNT(*),
       COALESCE(SUM(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END), 0)
  FROM results
 WHERE checked_on >= ? AND check_id IN (`+strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")+`)
 GROUP BY check_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("tally: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int64
			t  domain.Tally
		)
		if err := rows.Scan(&id, &t.Pings, &t.Successes); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		out[domain.CheckID(id)] = t
	}
	return out, rows.Err()
}

func (s *Store) Timeline(ctx context.Context, q repo.TimelineQuery) ([]domain.ProbeResult, int, error) {
	start, end := nanos(q.Start), nanos(q.End)
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE check_id = ? AND checked_on >= ? AND checked_on <= ?`,
		int64(q.CheckID), start, end,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count timeline: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, checked_on, status_code, response_time
  FROM results
 WHERE check_id = ? AND checked_on >= ? AND checked_on <= ?
 ORDER BY checked_on DESC, id DESC
 LIMIT ? OFFSET ?`, int64(q.CheckID), start, end, limit, max(q.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	out := []domain.ProbeResult{}
	for rows.Next() {
		var (
			r       = domain.ProbeResult{CheckID: q.CheckID}
			checked int64
			code    sql.NullInt32
			latency sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &checked, &code, &latency); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		r.CheckedOn = fromNanos(checked)
		if code.Valid {
			v := int(code.Int32)
			r.StatusCode = &v
		}
		if latency.Valid {
			v := latency.Float64
			r.ResponseTime = &v
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// ---- AlertStore ----

func (s *Store) GetAlert(ctx context.Context, domainName string) (*repo.AlertRecord, error) {
	var (
		status string
		sent   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_status, last_sent_at FROM alerts WHERE domain = ?`, domainName,
	).Scan(&status, &sent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	rec := &repo.AlertRecord{Domain: domainName, LastStatus: domain.Status(status)}
	if sent.Valid {
		ts := fromNanos(sent.Int64)
		rec.LastSentAt = &ts
	}
	return rec, nil
}

func (s *Store) SetAlert(ctx context.Context, domainName string, status domain.Status, sentAt time.Time) error {
	var sent any
	if !sentAt.IsZero() {
		sent = nanos(sentAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts(domain, last_status, last_sent_at) VALUES(?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			last_status = excluded.last_status,
			last_sent_at = COALESCE(excluded.last_sent_at, alerts.last_sent_at)
	`, domainName, string(status), sent)
	if err != nil {
		return fmt.Errorf("set alert: %w", err)
	}
	return nil
}
