package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

const eventColumns = `
	event_id, seq, kind, pool_id, user,
	amount, rewards, forfeited, total_staked, timestamp
`

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.EventID == "" || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would collapse duplicates; the journal is append-only.
	exists, err := s.exists(ctx, e.PoolID, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO ledger_events (`+eventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.EventID, e.Seq, string(e.Kind), e.PoolID, e.User.String(),
		e.Amount, e.Rewards, e.Forfeited, e.TotalStaked, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

// GetByPool retrieves all events of a pool, ordered by (timestamp, seq) ASC.
func (s *EventStore) GetByPool(ctx context.Context, poolID uint64) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events FINAL
		WHERE pool_id = ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query by pool: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByUser retrieves a user's events in a pool, ordered by (timestamp, seq) ASC.
func (s *EventStore) GetByUser(ctx context.Context, poolID uint64, user domain.Pubkey) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events FINAL
		WHERE pool_id = ? AND user = ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID, user.String())
	if err != nil {
		return nil, fmt.Errorf("query by user: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *EventStore) exists(ctx context.Context, poolID uint64, eventID string) (bool, error) {
	query := `SELECT count(*) FROM ledger_events WHERE pool_id = ? AND event_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, poolID, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanEvents(rows driver.Rows) ([]*domain.LedgerEvent, error) {
	var events []*domain.LedgerEvent

	for rows.Next() {
		var (
			e    domain.LedgerEvent
			kind string
			user string
		)
		err := rows.Scan(
			&e.EventID, &e.Seq, &kind, &e.PoolID, &user,
			&e.Amount, &e.Rewards, &e.Forfeited, &e.TotalStaked, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.User, err = domain.ParsePubkey(user)
		if err != nil {
			return nil, fmt.Errorf("decode user of %s: %w", e.EventID, err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger event rows: %w", err)
	}

	return events, nil
}
