package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveRule upserts a rule definition. Hit counters are owned by AddRuleHits.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.FraudRule) error {
	data, err := encode(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_rules (id, name, status, version, hit_count, last_hit_ns, created_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			version = excluded.version,
			data = excluded.data
	`

	var lastHit int64
	if rule.LastHitAt != nil {
		lastHit = rule.LastHitAt.UnixNano()
	}
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, string(rule.Status), rule.Version,
		rule.HitCount, lastHit, rule.CreatedAt.UnixNano(), data,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.FraudRule, error) {
	query := `SELECT data, hit_count, last_hit_ns FROM fraud_rules WHERE id = ?`

	var data string
	var hits, lastHit int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(&data, &hits, &lastHit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("rule", ruleID)
	}
	if err != nil {
		return nil, err
	}
	return decodeRule(data, hits, lastHit)
}

// ListRules returns rules in creation order.
func (r *SQLRepository) ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	query := `SELECT data, hit_count, last_hit_ns FROM fraud_rules`
	var args []any
	if activeOnly {
		query += ` WHERE status = ?`
		args = append(args, string(domain.RuleActive))
	}
	query += ` ORDER BY created_ns, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		var data string
		var hits, lastHit int64
		if err := rows.Scan(&data, &hits, &lastHit); err != nil {
			return nil, err
		}
		rule, err := decodeRule(data, hits, lastHit)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// AddRuleHits adds delta to the persisted hit counter.
func (r *SQLRepository) AddRuleHits(ctx context.Context, ruleID string, delta int64, lastHit time.Time) error {
	query := `
		UPDATE fraud_rules
		SET hit_count = hit_count + ?,
		    last_hit_ns = CASE WHEN last_hit_ns > ? THEN last_hit_ns ELSE ? END
		WHERE id = ?
	`
	ns := lastHit.UnixNano()
	res, err := r.db.ExecContext(ctx, r.rebind(query), delta, ns, ns, ruleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound("rule", ruleID)
	}
	return nil
}

func decodeRule(data string, hits, lastHit int64) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return nil, err
	}
	rule.HitCount = hits
	if lastHit > 0 {
		t := time.Unix(0, lastHit).UTC()
		rule.LastHitAt = &t
	} else {
		rule.LastHitAt = nil
	}
	return &rule, nil
}
