package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveEvent stores an ingested event. Re-saving the same id is a no-op.
func (r *SQLRepository) SaveEvent(ctx context.Context, ev *domain.Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, transaction_id, customer_id, account_id, device_id, has_geo, occurred_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.TransactionID, ev.CustomerID, ev.AccountID, ev.DeviceID,
		boolInt(ev.Geo != nil), ev.Timestamp.UnixNano(), data,
	)
	return err
}

// ListEvents returns events matching filter, newest first.
func (r *SQLRepository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	query := `SELECT data FROM events WHERE 1 = 1`
	var args []any

	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, filter.DeviceID)
	}
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if !filter.Since.IsZero() {
		query += ` AND occurred_ns >= ?`
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		query += ` AND occurred_ns <= ?`
		args = append(args, filter.Until.UnixNano())
	}
	query += ` ORDER BY occurred_ns DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return scanData[domain.Event](rows)
}

// LastLocatedEvent returns the customer's latest located event at or before
// the given time.
func (r *SQLRepository) LastLocatedEvent(ctx context.Context, customerID string, before time.Time) (*domain.Event, error) {
	query := `
		SELECT data FROM events
		WHERE customer_id = ? AND has_geo = 1 AND occurred_ns <= ?
		ORDER BY occurred_ns DESC
		LIMIT 1
	`
	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, before.UnixNano()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetPattern returns the customer's pattern, or nil when none exists.
func (r *SQLRepository) GetPattern(ctx context.Context, customerID string) (*domain.BehaviorPattern, error) {
	var p domain.BehaviorPattern
	err := r.getData(ctx, "pattern", `SELECT data FROM behavior_patterns WHERE customer_id = ?`, customerID, &p)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPattern inserts or replaces the customer's pattern.
func (r *SQLRepository) UpsertPattern(ctx context.Context, p *domain.BehaviorPattern) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO behavior_patterns (customer_id, updated_ns, data)
		VALUES (?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			updated_ns = excluded.updated_ns,
			data = excluded.data
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), p.CustomerID, p.UpdatedAt.UnixNano(), data)
	return err
}

// SaveBehaviorEvent appends an observation.
func (r *SQLRepository) SaveBehaviorEvent(ctx context.Context, be *domain.BehaviorEvent) error {
	data, err := encode(be)
	if err != nil {
		return err
	}
	query := `INSERT INTO behavior_events (id, customer_id, occurred_ns, data) VALUES (?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, r.rebind(query), be.ID, be.CustomerID, be.OccurredAt.UnixNano(), data)
	return err
}

// ListBehaviorEvents returns the customer's observations, newest first.
func (r *SQLRepository) ListBehaviorEvents(ctx context.Context, customerID string, limit int) ([]*domain.BehaviorEvent, error) {
	query := `SELECT data FROM behavior_events WHERE customer_id = ? ORDER BY occurred_ns DESC` + limitClause(limit)
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return nil, err
	}
	return scanData[domain.BehaviorEvent](rows)
}
