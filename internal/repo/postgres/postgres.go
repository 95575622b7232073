package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
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

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO domains (name, owner, created_at) VALUES ($1, $2, $3) RETURNING id`,
		d.Name, d.Owner, d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return fmt.Errorf("domain %q: %w", d.Name, repo.ErrDuplicate)
		}
		return fmt.Errorf("insert domain: %w", err)
	}
	for i := range checks {
		checks[i].DomainID = d.ID
		checks[i].DomainName = d.Name
		if err := insertCheck(ctx, tx, &checks[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertCheck(ctx context.Context, tx pgx.Tx, c *domain.Check) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO checks (domain_id, path, protocol, method, is_active)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		int64(c.DomainID), c.Path, string(c.Protocol), string(c.Method), c.Active,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *Store) GetDomain(ctx context.Context, name string) (*domain.Domain, error) {
	var d domain.Domain
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner, created_at FROM domains WHERE name = $1`, name,
	).Scan(&d.ID, &d.Name, &d.Owner, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (s *Store) DeleteDomain(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM domains WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE domain = $1`, name); err != nil {
		s.log.Warn("alert_cleanup_error", zap.String("domain", name), zap.Error(err))
	}
	return nil
}

// ---- CheckStore ----

const checkSelect = `
SELECT c.id, c.domain_id, d.name, c.path, c.protocol, c.method, c.is_active
  FROM checks c
  JOIN domains d ON d.id = c.domain_id`

func scanCheck(row pgx.Row) (domain.Check, error) {
	var (
		c                domain.Check
		protocol, method string
	)
	if err := row.Scan(&c.ID, &c.DomainID, &c.DomainName, &c.Path, &protocol, &method, &c.Active); err != nil {
		return c, err
	}
	c.Protocol = domain.Protocol(protocol)
	c.Method = domain.Method(method)
	return c, nil
}

func (s *Store) GetCheck(ctx context.Context, id domain.CheckID) (*domain.Check, error) {
	c, err := scanCheck(s.pool.QueryRow(ctx, checkSelect+` WHERE c.id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get check: %w", err)
	}
	return &c, nil
}

func (s *Store) ListChecks(ctx context.Context, f repo.CheckFilter) ([]domain.Check, error) {
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	q := checkSelect
	if where := f.Where(bind); where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY d.name, c.path, c.id"
	return s.queryChecks(ctx, q, args...)
}

func (s *Store) queryChecks(ctx context.Context, q string, args ...any) ([]domain.Check, error) {
	rows, err := s.pool.Query(ctx, q, args...)
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var domainID int64
	err = tx.QueryRow(ctx, `SELECT id FROM domains WHERE name = $1 FOR UPDATE`, domainName).Scan(&domainID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock domain: %w", err)
	}

	kept := make([]int64, 0, len(checks))
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
		tag, err := tx.Exec(ctx,
			`UPDATE checks SET path=$1, protocol=$2, method=$3, is_active=$4
			  WHERE id=$5 AND domain_id=$6`,
			c.Path, string(c.Protocol), string(c.Method), c.Active, int64(c.ID), domainID)
		if err != nil {
			return nil, fmt.Errorf("update check: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("check %d: %w", c.ID, repo.ErrNotFound)
		}
		kept = append(kept, int64(c.ID))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE checks SET is_active = FALSE WHERE domain_id = $1 AND id <> ALL($2)`,
		domainID, kept); err != nil {
		return nil, fmt.Errorf("deactivate checks: %w", err)
	}

	var active int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM checks WHERE domain_id = $1 AND is_active`, domainID,
	).Scan(&active); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if active == 0 {
		return nil, repo.ErrNoActiveCheck
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.queryChecks(ctx, checkSelect+` WHERE c.domain_id = $1 ORDER BY c.path, c.id`, domainID)
}

func (s *Store) ActiveDomains(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
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
	err := s.pool.QueryRow(ctx,
		`INSERT INTO results (check_id, checked_on, status_code, response_time, response_body)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		int64(r.CheckID), r.CheckedOn, r.StatusCode, r.ResponseTime, r.ResponseBody,
	).Scan(&r.ID)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return fmt.Errorf("insert result for check %d: %w", r.CheckID, repo.ErrNotFound)
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) Tally(ctx context.Context, ids []domain.CheckID, since time.Time) (map[domain.CheckID]domain.Tally, error) {
	out := make(map[domain.CheckID]domain.Tally, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
		out[id] = domain.Tally{}
	}
	rows, err := s.pool.Query(ctx, `
SELECT check_id,
       COUNT(*),
       COUNT(*) FILTER (WHERE status_code BETWEEN 200 AND 299)
  FROM results
 WHERE check_id = ANY($1) AND checked_on >= $2
 GROUP BY check_id`, raw, since.UTC())
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
	start, end := q.Start.UTC(), q.End.UTC()
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM results WHERE check_id = $1 AND checked_on >= $2 AND checked_on <= $3`,
		int64(q.CheckID), start, end,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count timeline: %w", err)
	}

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, checked_on, status_code, response_time
  FROM results
 WHERE check_id = $1 AND checked_on >= $2 AND checked_on <= $3
 ORDER BY checked_on DESC, id DESC
 LIMIT $4 OFFSET $5`, int64(q.CheckID), start, end, limit, max(q.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	out := []domain.ProbeResult{}
	for rows.Next() {
		var (
			r       = domain.ProbeResult{CheckID: q.CheckID}
			code    sql.NullInt32
			latency sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.CheckedOn, &code, &latency); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		r.CheckedOn = r.CheckedOn.UTC()
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
