package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lucasnoah/mergegate/internal/attempt"
)

// Event is a row in attempt_events.
type Event struct {
	AttemptID string
	Seq       int
	From      attempt.State
	To        attempt.State
	Note      string
	At        time.Time
}

// FixAttemptRow is a row in fix_attempts.
type FixAttemptRow struct {
	AttemptID     string
	AttemptNumber int
	Category      string
	Job           string
	Strategy      string
	Fingerprint   string
	ResultingSHA  string
	Outcome       string
	StartedAt     time.Time
}

// Save upserts c and appends any transitions and fix attempts not yet
// recorded. Rows already written are never rewritten.
func (d *DB) Save(ctx context.Context, c *attempt.Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	var headSHA, reason *string
	var approved *bool
	if c.Revision != nil {
		headSHA = &c.Revision.SHA
	}
	if c.Decision != nil {
		approved, reason = &c.Decision.Approved, &c.Decision.Reason
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO merge_attempts (id, branch, target, state, head_sha, approved, reason, context, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     state = EXCLUDED.state, head_sha = EXCLUDED.head_sha, approved = EXCLUDED.approved,
		     reason = EXCLUDED.reason, context = EXCLUDED.context, updated_at = EXCLUDED.updated_at`,
		c.ID, c.Branch, c.Target, string(c.State), headSHA, approved, reason, data, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", c.ID, err)
	}

	for i, tr := range c.Transitions {
		_, err := tx.Exec(ctx,
			`INSERT INTO attempt_events (attempt_id, seq, from_state, to_state, note, at)
			 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
			c.ID, i, string(tr.From), string(tr.To), tr.Note, tr.At,
		)
		if err != nil {
			return fmt.Errorf("log attempt event: %w", err)
		}
	}

	for _, fa := range c.History {
		_, err := tx.Exec(ctx,
			`INSERT INTO fix_attempts (attempt_id, attempt_number, category, job, strategy, fingerprint, resulting_sha, outcome, started_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT DO NOTHING`,
			c.ID, fa.AttemptNumber, string(fa.Category), fa.Job, fa.StrategyApplied, fa.Fingerprint,
			fa.ResultingCommitSHA, string(fa.Outcome), fa.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("log fix attempt: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Load returns the attempt with the given ID.
func (d *DB) Load(ctx context.Context, id string) (*attempt.Context, error) {
	var data []byte
	err := d.pool.QueryRow(ctx, `SELECT context FROM merge_attempts WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", attempt.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt %s: %w", id, err)
	}
	var c attempt.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse attempt %s: %w", id, err)
	}
	return &c, nil
}

// List returns attempts newest first, optionally for one branch.
func (d *DB) List(ctx context.Context, branch string) ([]*attempt.Context, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT context FROM merge_attempts WHERE $1 = '' OR branch = $1 ORDER BY created_at DESC, id`,
		branch,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*attempt.Context
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		var c attempt.Context
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Events returns the transition log for an attempt, in order.
func (d *DB) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT attempt_id, seq, from_state, to_state, COALESCE(note, ''), at
		 FROM attempt_events WHERE attempt_id = $1 ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var from, to string
		if err := rows.Scan(&e.AttemptID, &e.Seq, &from, &to, &e.Note, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.From, e.To = attempt.State(from), attempt.State(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FixAttempts returns the fix audit rows for an attempt, in order.
func (d *DB) FixAttempts(ctx context.Context, id string) ([]FixAttemptRow, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT attempt_id, attempt_number, category, COALESCE(job, ''), strategy, fingerprint,
		        COALESCE(resulting_sha, ''), outcome, started_at
		 FROM fix_attempts WHERE attempt_id = $1 ORDER BY attempt_number`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query fix attempts: %w", err)
	}
	defer rows.Close()

	var out []FixAttemptRow
	for rows.Next() {
		var r FixAttemptRow
		if err := rows.Scan(&r.AttemptID, &r.AttemptNumber, &r.Category, &r.Job, &r.Strategy,
			&r.Fingerprint, &r.ResultingSHA, &r.Outcome, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan fix attempt: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
