package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/workqueue/pkg/pg"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements workqueue.Repository on PostgreSQL.
type Store struct {
	db DB
}

var _ workqueue.Repository = (*Store)(nil)

// New creates a store over db. The schema from Migrations must be applied.
func New(db DB) (*Store, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	return &Store{db: db}, nil
}

func (s *Store) GetWork(ctx context.Context, id string) (*workqueue.Work, error) {
	w, err := scanWork(s.db.QueryRow(ctx, `SELECT `+columns+` FROM works WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, workqueue.ErrWorkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work: %w", err)
	}
	return w, nil
}

func (s *Store) FindWorks(ctx context.Context, filter workqueue.Filter, opts workqueue.FindOptions) ([]*workqueue.Work, error) {
	q := &query{}
	sql := `SELECT ` + columns + ` FROM works WHERE ` + q.where(filter) + ` ORDER BY ` + orderBy(opts.SortOrDefault())
	if opts.Limit > 0 {
		sql += ` LIMIT ` + q.arg(opts.Limit)
	}
	if opts.Skip > 0 {
		sql += ` OFFSET ` + q.arg(opts.Skip)
	}

	rows, err := s.db.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find works: %w", err)
	}
	defer rows.Close()

	out := make([]*workqueue.Work, 0)
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read works: %w", err)
	}
	return out, nil
}

func (s *Store) CountWorks(ctx context.Context, filter workqueue.Filter) (int64, error) {
	q := &query{}
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM works WHERE `+q.where(filter), q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count works: %w", err)
	}
	return n, nil
}

func (s *Store) CountByType(ctx context.Context, filter workqueue.Filter) (map[string]int64, error) {
	q := &query{}
	rows, err := s.db.Query(ctx, `SELECT type, count(*) FROM works WHERE `+q.where(filter)+` GROUP BY type`, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count works by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read type counts: %w", err)
	}
	return counts, nil
}

func (s *Store) InsertWork(ctx context.Context, w *workqueue.Work) error {
	if w == nil || w.ID == "" {
		return workqueue.ErrWorkNil
	}
	r, err := toRow(w)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `INSERT INTO works (`+insertColumns+`) VALUES (`+insertPlaceholders+`)`, r.values()...)
	if pg.IsDuplicateKeyError(err) {
		return workqueue.ErrWorkExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert work: %w", err)
	}
	return nil
}

func (s *Store) RescheduleWork(ctx context.Context, id string, scheduled time.Time) (*workqueue.Work, error) {
	return s.conditionalUpdate(ctx, id, []workqueue.Status{workqueue.StatusNew}, `scheduled = $2`, scheduled)
}

func (s *Store) DeleteWork(ctx context.Context, id string, statuses []workqueue.Status, now time.Time) (*workqueue.Work, error) {
	return s.conditionalUpdate(ctx, id, statuses, `deleted = $2, coalesce_key = NULL`, now)
}

func (s *Store) AllocateWork(ctx context.Context, p workqueue.AllocateParams) (*workqueue.Work, error) {
	q := &query{}
	now := q.arg(p.Now)
	worker := q.arg(p.WorkerID)
	sql := `UPDATE works SET started = ` + now + `, worker = ` + worker + `, coalesce_key = NULL
		WHERE id = (
			SELECT id FROM works
			WHERE ` + q.where(p.Filter()) + `
			ORDER BY ` + orderBy(workqueue.DefaultSort) + `
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + columns

	w, err := scanWork(s.db.QueryRow(ctx, sql, q.args...))
	if pg.IsNotFoundError(err) {
		return nil, workqueue.ErrNoWorkToAllocate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate work: %w", err)
	}
	return w, nil
}

func (s *Store) FinishWork(ctx context.Context, p workqueue.FinishParams) (*workqueue.Work, error) {
	result, err := encodeJSON(p.Outcome.Result)
	if err != nil {
		return nil, err
	}
	var errJSON []byte
	if p.Outcome.Error != nil {
		if errJSON, err = encodeJSON(p.Outcome.Error); err != nil {
			return nil, err
		}
	}

	w, err := scanWork(s.db.QueryRow(ctx, `
		UPDATE works
		SET finished = $2, success = $3, result = $4, error = $5,
			worker = COALESCE($6, worker), coalesce_key = NULL
		WHERE id = $1 AND finished IS NULL
		RETURNING `+columns,
		p.ID, p.Now, p.Outcome.Success, result, errJSON, nullString(p.WorkerID),
	))
	if pg.IsNotFoundError(err) {
		stored, getErr := s.GetWork(ctx, p.ID)
		if getErr != nil {
			return nil, getErr
		}
		return stored, workqueue.ErrWorkAlreadyFinished
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish work: %w", err)
	}
	return w, nil
}

// UpsertScheduledWork reports an insert through xmax, which is zero only for
// rows created by this statement. A conflicting started or finished row fails
// the DO UPDATE guard and returns nothing.
func (s *Store) UpsertScheduledWork(ctx context.Context, w *workqueue.Work) (*workqueue.Work, bool, error) {
	r, err := toRow(w)
	if err != nil {
		return nil, false, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO works (`+insertColumns+`) VALUES (`+insertPlaceholders+`)
		ON CONFLICT (id) DO UPDATE SET
			input = EXCLUDED.input,
			search_text = EXCLUDED.search_text,
			retries = EXCLUDED.retries,
			timeout_ms = EXCLUDED.timeout_ms,
			deleted = NULL
		WHERE works.started IS NULL AND works.finished IS NULL
		RETURNING `+columns+`, (xmax = 0)`,
		r.values()...,
	)

	var inserted bool
	stored, err := scanWork(row, &inserted)
	if pg.IsNotFoundError(err) {
		return nil, false, workqueue.ErrScheduleSlotTaken
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert scheduled work: %w", err)
	}
	return stored, inserted, nil
}

// CoalesceWork merges the reference into the locked pending batch, or inserts
// a new batch. The partial unique index on coalesce_key turns a lost insert
// race into ErrWorkExists.
func (s *Store) CoalesceWork(ctx context.Context, p workqueue.CoalesceParams) (*workqueue.Work, bool, error) {
	var merged *workqueue.Work
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		q := &query{}
		sql := `SELECT ` + columns + ` FROM works WHERE ` +
			q.where(workqueue.Filter{CoalesceKey: p.Key, Statuses: []workqueue.Status{workqueue.StatusNew}}) +
			` LIMIT 1 FOR UPDATE`
		w, err := scanWork(tx.QueryRow(ctx, sql, q.args...))
		if err != nil {
			return err
		}

		w.Input = workqueue.MergeReference(w.Input, p.Reference)
		w.Scheduled = p.Scheduled
		input, err := encodeJSON(w.Input)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE works SET input = $2, search_text = $3, scheduled = $4 WHERE id = $1`,
			w.ID, input, workqueue.SearchText(w.Input), w.Scheduled,
		); err != nil {
			return err
		}
		merged = w
		return nil
	})
	if err == nil {
		return merged, false, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("failed to coalesce work: %w", err)
	}

	w := workqueue.NewCoalescedWork(p)
	if err := s.InsertWork(ctx, w); err != nil {
		return nil, false, err
	}
	return w, true, nil
}

func (s *Store) ReportCounts(ctx context.Context, filter workqueue.ReportFilter) ([]workqueue.StatusCount, error) {
	q := &query{}
	sql := `SELECT type, ` + statusCaseSQL() + ` AS status, count(*)
		FROM works WHERE ` + q.where(filter.Filter()) + `
		GROUP BY 1, 2`

	rows, err := s.db.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate report: %w", err)
	}
	defer rows.Close()

	out := make([]workqueue.StatusCount, 0)
	for rows.Next() {
		var c workqueue.StatusCount
		var status string
		if err := rows.Scan(&c.Type, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		c.Status = workqueue.Status(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return out, nil
}

// conditionalUpdate runs "UPDATE works SET <set>" for a row in one of
// statuses. $1 is the id and $2 the single set argument.
func (s *Store) conditionalUpdate(ctx context.Context, id string, statuses []workqueue.Status, set string, arg any) (*workqueue.Work, error) {
	cond := "TRUE"
	if len(statuses) > 0 {
		cond = statusSQL(statuses)
	}
	w, err := scanWork(s.db.QueryRow(ctx,
		`UPDATE works SET `+set+` WHERE id = $1 AND `+cond+` RETURNING `+columns, id, arg))
	if pg.IsNotFoundError(err) {
		if _, getErr := s.GetWork(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, workqueue.ErrInvalidWorkState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update work: %w", err)
	}
	return w, nil
}

func encodeJSON(v any) ([]byte, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrFailedToEncodeWork, err)
	}
	return raw, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
