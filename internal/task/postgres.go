package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/models"
)

const taskColumns = `id, name, args, headers, state, attempt, max_retries, eta,
	COALESCE(group_id, ''), result, error, created_at, updated_at`

const groupColumns = `id, COALESCE(organization_id::text, ''), callback, member_ids, join_task_id, state, created_at, updated_at`

// PostgresBroker stores tasks in the tasks and task_groups tables. Workers
// in any number of processes may claim from it concurrently.
type PostgresBroker struct {
	pool *dbpool.Pool
}

// NewPostgresBroker creates a PostgresBroker.
func NewPostgresBroker(pool *dbpool.Pool) *PostgresBroker {
	return &PostgresBroker{pool: pool}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m                     Message
		args, headers, result []byte
		state                 string
	)

	err := row.Scan(&m.ID, &m.Name, &args, &headers, &state, &m.Attempt, &m.MaxRetries, &m.ETA,
		&m.GroupID, &result, &m.Error, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTaskNotFound
		}
		return nil, err
	}

	m.State = State(state)

	if err := json.Unmarshal(args, &m.Args); err != nil {
		return nil, fmt.Errorf("decoding task args: %w", err)
	}

	if err := json.Unmarshal(headers, &m.Headers); err != nil {
		return nil, fmt.Errorf("decoding task headers: %w", err)
	}

	if len(result) > 0 {
		m.Result = result
	}

	return &m, nil
}

// nullableUUID returns nil for values Postgres would reject as UUIDs.
func nullableUUID(s string) any {
	if !models.IsUUID(s) {
		return nil
	}
	return s
}

// Enqueue inserts msg as queued.
func (b *PostgresBroker) Enqueue(ctx context.Context, msg *Message) error {
	args, err := json.Marshal(msg.Args)
	if err != nil {
		return fmt.Errorf("encoding task args: %w", err)
	}

	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("encoding task headers: %w", err)
	}

	eta := msg.ETA
	if eta.IsZero() {
		eta = time.Now()
	}

	var groupID any
	if msg.GroupID != "" {
		groupID = msg.GroupID
	}

	_, err = b.pool.Exec(ctx,
		`INSERT INTO tasks (id, name, organization_id, args, headers, state, max_retries, eta, group_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.Name, nullableUUID(msg.OrganizationID()), args, headers, StateQueued, msg.MaxRetries, eta, groupID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("task %s: %w", msg.ID, models.ErrDuplicateKey)
		}
		return fmt.Errorf("enqueueing task %s: %w", msg.Name, err)
	}

	return nil
}

// Claim locks the earliest due row with SKIP LOCKED so concurrent workers
// never receive the same task.
func (b *PostgresBroker) Claim(ctx context.Context, now time.Time) (*Message, error) {
	m, err := scanMessage(b.pool.QueryRow(ctx,
		`UPDATE tasks SET state = $2, attempt = attempt + 1, updated_at = now()
		 WHERE id = (
			SELECT id FROM tasks
			WHERE state IN ('queued', 'retrying') AND eta <= $1
			ORDER BY eta, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		now, StateRunning))
	if errors.Is(err, models.ErrTaskNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}

	return m, nil
}

// finishRunning applies an update to a running task, telling a missing
// task apart from one that is no longer running.
func (b *PostgresBroker) finishRunning(ctx context.Context, id, set string, args ...any) error {
	tag, err := b.pool.Exec(ctx,
		"UPDATE tasks SET "+set+", updated_at = now() WHERE id = $1 AND state = 'running'",
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}

	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := b.Get(ctx, id); err != nil {
		return err
	}

	return ErrNotRunning
}

// Complete records the result of a running task.
func (b *PostgresBroker) Complete(ctx context.Context, id string, result json.RawMessage) error {
	return b.finishRunning(ctx, id, "state = 'completed', result = $2, error = ''", []byte(result))
}

// Retry schedules another attempt after delay.
func (b *PostgresBroker) Retry(ctx context.Context, id string, delay time.Duration, errMsg string) error {
	return b.finishRunning(ctx, id, "state = 'retrying', eta = now() + $2::bigint * interval '1 microsecond', error = $3",
		delay.Microseconds(), errMsg)
}

// Fail records a terminal failure.
func (b *PostgresBroker) Fail(ctx context.Context, id string, errMsg string) error {
	return b.finishRunning(ctx, id, "state = 'failed', error = $2", errMsg)
}

// Revoke marks a task revoked unless it already finished.
func (b *PostgresBroker) Revoke(ctx context.Context, id string) (State, error) {
	var prev string

	err := b.pool.QueryRow(ctx,
		`WITH prev AS (SELECT id, state FROM tasks WHERE id = $1 FOR UPDATE)
		 UPDATE tasks t SET state = 'revoked', updated_at = now()
		 FROM prev
		 WHERE t.id = prev.id AND prev.state NOT IN ('completed', 'failed', 'revoked')
		 RETURNING prev.state`, id).Scan(&prev)
	if err == nil {
		return State(prev), nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("revoking task %s: %w", id, err)
	}

	m, err := b.Get(ctx, id)
	if err != nil {
		return "", err
	}

	return m.State, nil
}

// Get returns a task by id.
func (b *PostgresBroker) Get(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(b.pool.QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id))
	if err != nil && !errors.Is(err, models.ErrTaskNotFound) {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}

	return m, err
}

// QueueDepth counts messages waiting to run.
func (b *PostgresBroker) QueueDepth(ctx context.Context) (int, error) {
	var n int

	err := b.pool.QueryRow(ctx, "SELECT count(*) FROM tasks WHERE state IN ('queued', 'retrying')").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting queued tasks: %w", err)
	}

	return n, nil
}

func scanGroup(row pgx.Row) (*Group, error) {
	var (
		g     Group
		state string
	)

	err := row.Scan(&g.ID, &g.OrganizationID, &g.Callback, &g.MemberIDs, &g.JoinTaskID, &state, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}

	g.State = GroupState(state)

	return &g, nil
}

// CreateGroup stores a pending group.
func (b *PostgresBroker) CreateGroup(ctx context.Context, g *Group) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO task_groups (id, organization_id, callback, member_ids, join_task_id, state)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, nullableUUID(g.OrganizationID), g.Callback, g.MemberIDs, g.JoinTaskID, GroupPending)
	if err != nil {
		return fmt.Errorf("creating group %s: %w", g.ID, err)
	}

	return nil
}

// GetGroup returns a group by id.
func (b *PostgresBroker) GetGroup(ctx context.Context, id string) (*Group, error) {
	g, err := scanGroup(b.pool.QueryRow(ctx, "SELECT "+groupColumns+" FROM task_groups WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading group %s: %w", id, err)
	}

	return g, nil
}

// UpdateGroupState sets the group state.
func (b *PostgresBroker) UpdateGroupState(ctx context.Context, id string, state GroupState) error {
	tag, err := b.pool.Exec(ctx,
		"UPDATE task_groups SET state = $2, updated_at = now() WHERE id = $1", id, state)
	if err != nil {
		return fmt.Errorf("updating group %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}

	return nil
}

// StuckGroups lists pending groups created before the cutoff.
func (b *PostgresBroker) StuckGroups(ctx context.Context, createdBefore time.Time) ([]*Group, error) {
	rows, err := b.pool.Query(ctx,
		"SELECT "+groupColumns+" FROM task_groups WHERE state = 'pending' AND created_at < $1 ORDER BY created_at LIMIT 100",
		createdBefore)
	if err != nil {
		return nil, fmt.Errorf("listing stuck groups: %w", err)
	}

	groups, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*Group, error) {
		return scanGroup(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning stuck groups: %w", err)
	}

	return groups, nil
}
