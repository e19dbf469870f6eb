package outbox

import (
	"context"
	_ "embed"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/composables"
)

//go:embed schema.sql
var schemaTemplate string

// PGStore keeps queue rows in a Postgres table. Claims use
// FOR UPDATE SKIP LOCKED so several relays can share one table.
type PGStore struct {
	pool    *pgxpool.Pool
	table   pgx.Identifier
	label   string
	lockKey int64
}

func NewPGStore(pool *pgxpool.Pool, table pgx.Identifier) (*PGStore, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	label := TableLabel(table)
	return &PGStore{
		pool:    pool,
		table:   table,
		label:   label,
		lockKey: advisoryLockKey("outbox:" + label),
	}, nil
}

func (s *PGStore) Label() string {
	return s.label
}

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	index := pgx.Identifier{s.table[len(s.table)-1] + "_pending_idx"}
	ddl := strings.NewReplacer(
		"{{table}}", s.table.Sanitize(),
		"{{index}}", index.Sanitize(),
	).Replace(schemaTemplate)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("outbox ensure schema: %w", err)
	}
	return nil
}

// Enqueue inserts msg using the transaction in ctx when there is one.
func (s *PGStore) Enqueue(ctx context.Context, msg Message) (int64, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	db, err := composables.UseTx(composables.WithPool(ctx, s.pool))
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (topic, payload, event_id, available_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
		 RETURNING sequence`,
		s.table.Sanitize(),
	)
	var sequence int64
	if err := db.QueryRow(ctx, q, msg.Topic, msg.Payload, msg.EventID).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("outbox enqueue: %w", err)
	}
	recordEnqueue(s.label, msg.Topic)
	return sequence, nil
}

func (s *PGStore) Claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]Claimed, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := s.table.Sanitize()
	q := fmt.Sprintf(
		`SELECT id, topic, payload, event_id, sequence, attempts, created_at
		   FROM %s
		  WHERE published_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`,
		tableName,
	)
	rows, err := tx.Query(ctx, q, now, maxAttempts, lockCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox claim select: %w", err)
	}

	var items []Claimed
	var ids []uuid.UUID
	for rows.Next() {
		var c Claimed
		if err := rows.Scan(&c.ID, &c.Topic, &c.Payload, &c.EventID, &c.Sequence, &c.Attempts, &c.EnqueuedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox claim scan: %w", err)
		}
		c.Attempts++
		c.ClaimedAt = now
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}

	if len(ids) > 0 {
		update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, tableName)
		if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
			return nil, fmt.Errorf("outbox claim update: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PGStore) Ack(ctx context.Context, id uuid.UUID) error {
	q := fmt.Sprintf(
		`UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		  WHERE id = $1 AND published_at IS NULL`,
		s.table.Sanitize(),
	)
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("outbox ack: %w", err)
	}
	return nil
}

func (s *PGStore) Nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error {
	q := fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		  WHERE id = $1 AND published_at IS NULL`,
		s.table.Sanitize(),
	)
	if _, err := s.pool.Exec(ctx, q, id, lastError, nextAvailable); err != nil {
		return fmt.Errorf("outbox nack: %w", err)
	}
	return nil
}

// Dead leaves the row unpublished; attempts >= max keeps it out of future claims.
func (s *PGStore) Dead(ctx context.Context, id uuid.UUID, lastError string) error {
	q := fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = now()
		  WHERE id = $1 AND published_at IS NULL`,
		s.table.Sanitize(),
	)
	if _, err := s.pool.Exec(ctx, q, id, lastError); err != nil {
		return fmt.Errorf("outbox dead: %w", err)
	}
	return nil
}

func (s *PGStore) Depth(ctx context.Context) (int64, int64, error) {
	q := fmt.Sprintf(
		`SELECT count(*), count(*) FILTER (WHERE locked_at IS NOT NULL)
		   FROM %s WHERE published_at IS NULL`,
		s.table.Sanitize(),
	)
	var pending, locked int64
	if err := s.pool.QueryRow(ctx, q).Scan(&pending, &locked); err != nil {
		return 0, 0, fmt.Errorf("outbox depth: %w", err)
	}
	return pending, locked, nil
}

func (s *PGStore) Purge(ctx context.Context, publishedBefore, deadBefore time.Time, deadAttempts int) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := s.table.Sanitize()
	q := fmt.Sprintf(`DELETE FROM %s WHERE published_at IS NOT NULL AND published_at < $1`, tableName)
	if _, err := tx.Exec(ctx, q, publishedBefore); err != nil {
		return fmt.Errorf("outbox purge published: %w", err)
	}

	if deadAttempts > 0 && !deadBefore.IsZero() {
		deadQ := fmt.Sprintf(
			`DELETE FROM %s WHERE published_at IS NULL AND attempts >= $1 AND created_at < $2`,
			tableName,
		)
		if _, err := tx.Exec(ctx, deadQ, deadAttempts, deadBefore); err != nil {
			return fmt.Errorf("outbox purge dead: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// TryLead takes a session advisory lock on a dedicated connection.
func (s *PGStore) TryLead(ctx context.Context) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, s.lockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, s.lockKey)
		conn.Release()
	}
	return release, true, nil
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
