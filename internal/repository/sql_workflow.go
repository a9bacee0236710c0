package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// CreateAlert inserts a new alert. A second active alert for the same
// customer and transaction fails with domain.ErrDuplicateAlert; a taken
// alert number fails with domain.ErrDuplicateNumber.
func (r *SQLRepository) CreateAlert(ctx context.Context, alert *domain.FraudAlert) error {
	data, err := encode(alert)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_alerts (id, alert_number, customer_id, transaction_id, status, active, version, created_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.AlertNumber, alert.CustomerID, alert.TransactionID,
		string(alert.Status), boolInt(!alert.Status.Terminal()), alert.Version,
		alert.CreatedAt.UnixNano(), data,
	)
	if isUniqueViolationOn(err, "alert_number") {
		return fmt.Errorf("alert number %s: %w", alert.AlertNumber, domain.ErrDuplicateNumber)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("alert for %s/%s: %w", alert.CustomerID, alert.TransactionID, domain.ErrDuplicateAlert)
	}
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	if err := r.getData(ctx, "alert", `SELECT data FROM fraud_alerts WHERE id = ?`, alertID, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAlert writes the alert if its stored version matches.
func (r *SQLRepository) UpdateAlert(ctx context.Context, alert *domain.FraudAlert) error {
	next := *alert
	next.Version++
	data, err := encode(&next)
	if err != nil {
		return err
	}

	query := `
		UPDATE fraud_alerts SET status = ?, active = ?, version = ?, data = ?
		WHERE id = ? AND version = ?
	`
	err = r.casUpdate(ctx, "alert", "fraud_alerts", alert.ID, query,
		string(next.Status), boolInt(!next.Status.Terminal()), next.Version, data,
		alert.ID, alert.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %s: %w", alert.ID, domain.ErrDuplicateAlert)
	}
	if err != nil {
		return err
	}
	alert.Version = next.Version
	return nil
}

// FindActiveAlert returns the non-terminal alert for the pair, or nil.
func (r *SQLRepository) FindActiveAlert(ctx context.Context, customerID, transactionID string) (*domain.FraudAlert, error) {
	query := `SELECT data FROM fraud_alerts WHERE customer_id = ? AND transaction_id = ? AND active = 1`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, transactionID)
	if err != nil {
		return nil, err
	}
	alerts, err := scanData[domain.FraudAlert](rows)
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return alerts[0], nil
}

// ListAlerts returns alerts matching filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	query := `SELECT data FROM fraud_alerts WHERE 1 = 1`
	var args []any
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_ns DESC, id` + limitClause(filter.Limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return scanData[domain.FraudAlert](rows)
}

// MaxAlertNumber returns the highest alert number with the given prefix.
func (r *SQLRepository) MaxAlertNumber(ctx context.Context, stem string) (string, error) {
	return r.maxNumber(ctx, `SELECT MAX(alert_number) FROM fraud_alerts WHERE alert_number LIKE ?`, stem)
}

// CreateCase inserts a new case. A taken case number fails with
// domain.ErrDuplicateNumber.
func (r *SQLRepository) CreateCase(ctx context.Context, c *domain.FraudCase) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO fraud_cases (id, case_number, customer_id, status, version, created_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.CaseNumber, c.CustomerID, string(c.Status), c.Version, c.CreatedAt.UnixNano(), data,
	)
	if isUniqueViolationOn(err, "case_number") {
		return fmt.Errorf("case number %s: %w", c.CaseNumber, domain.ErrDuplicateNumber)
	}
	return err
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.FraudCase, error) {
	var c domain.FraudCase
	if err := r.getData(ctx, "case", `SELECT data FROM fraud_cases WHERE id = ?`, caseID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCase writes the case if its stored version matches.
func (r *SQLRepository) UpdateCase(ctx context.Context, c *domain.FraudCase) error {
	next := *c
	next.Version++
	data, err := encode(&next)
	if err != nil {
		return err
	}
	query := `UPDATE fraud_cases SET status = ?, version = ?, data = ? WHERE id = ? AND version = ?`
	if err := r.casUpdate(ctx, "case", "fraud_cases", c.ID, query,
		string(next.Status), next.Version, data, c.ID, c.Version,
	); err != nil {
		return err
	}
	c.Version = next.Version
	return nil
}

// ListCases returns cases matching filter, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.FraudCase, error) {
	query := `SELECT data FROM fraud_cases WHERE 1 = 1`
	var args []any
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_ns DESC, id` + limitClause(filter.Limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return scanData[domain.FraudCase](rows)
}

// MaxCaseNumber returns the highest case number with the given prefix.
func (r *SQLRepository) MaxCaseNumber(ctx context.Context, stem string) (string, error) {
	return r.maxNumber(ctx, `SELECT MAX(case_number) FROM fraud_cases WHERE case_number LIKE ?`, stem)
}

func (r *SQLRepository) maxNumber(ctx context.Context, query, stem string) (string, error) {
	var hi sql.NullString
	if err := r.db.QueryRowContext(ctx, r.rebind(query), stem+"%").Scan(&hi); err != nil {
		return "", err
	}
	return hi.String, nil
}

// CreateInvestigation inserts a new investigation.
func (r *SQLRepository) CreateInvestigation(ctx context.Context, inv *domain.FraudInvestigation) error {
	data, err := encode(inv)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO fraud_investigations (id, case_id, status, terminal, version, sla_ns, created_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, inv.CaseID, string(inv.Status), boolInt(inv.Status.Terminal()), inv.Version,
		inv.SLADeadline.UnixNano(), inv.CreatedAt.UnixNano(), data,
	)
	return err
}

// GetInvestigation retrieves an investigation by ID.
func (r *SQLRepository) GetInvestigation(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	var inv domain.FraudInvestigation
	if err := r.getData(ctx, "investigation", `SELECT data FROM fraud_investigations WHERE id = ?`, id, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateInvestigation writes the investigation if its stored version matches.
func (r *SQLRepository) UpdateInvestigation(ctx context.Context, inv *domain.FraudInvestigation) error {
	next := *inv
	next.Version++
	data, err := encode(&next)
	if err != nil {
		return err
	}
	query := `
		UPDATE fraud_investigations SET status = ?, terminal = ?, version = ?, sla_ns = ?, data = ?
		WHERE id = ? AND version = ?
	`
	if err := r.casUpdate(ctx, "investigation", "fraud_investigations", inv.ID, query,
		string(next.Status), boolInt(next.Status.Terminal()), next.Version, next.SLADeadline.UnixNano(), data,
		inv.ID, inv.Version,
	); err != nil {
		return err
	}
	inv.Version = next.Version
	return nil
}

// ListInvestigationsByCase returns the case's investigations, oldest first.
func (r *SQLRepository) ListInvestigationsByCase(ctx context.Context, caseID string) ([]*domain.FraudInvestigation, error) {
	query := `SELECT data FROM fraud_investigations WHERE case_id = ? ORDER BY created_ns, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	return scanData[domain.FraudInvestigation](rows)
}

// ListOpenInvestigations returns non-terminal investigations by SLA deadline.
func (r *SQLRepository) ListOpenInvestigations(ctx context.Context) ([]*domain.FraudInvestigation, error) {
	query := `SELECT data FROM fraud_investigations WHERE terminal = 0 ORDER BY sla_ns, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	return scanData[domain.FraudInvestigation](rows)
}

// ListInvestigations returns investigations matching filter, newest first.
func (r *SQLRepository) ListInvestigations(ctx context.Context, filter domain.InvestigationFilter) ([]*domain.FraudInvestigation, error) {
	query := `SELECT data FROM fraud_investigations WHERE 1 = 1`
	var args []any
	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_ns DESC, id` + limitClause(filter.Limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return scanData[domain.FraudInvestigation](rows)
}

// SaveDecision stores a scored decision.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	data, err := encode(d)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO decisions (id, event_id, customer_id, severity, score, evaluated_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.EventID, d.CustomerID, string(d.Severity), d.FraudScore, d.EvaluatedAt.UnixNano(), data,
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	var d domain.Decision
	if err := r.getData(ctx, "decision", `SELECT data FROM decisions WHERE id = ?`, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
