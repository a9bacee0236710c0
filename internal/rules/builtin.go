package rules

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BuiltinRules returns a small starter rule set for empty deployments.
func BuiltinRules() []*domain.FraudRule {
	return []*domain.FraudRule{
		{
			Name:        "Large online purchase",
			Description: "High value card-not-present purchase",
			Type:        domain.RuleTypeThreshold,
			Conditions: []domain.RuleCondition{
				{Field: "amount", Operator: domain.OpGreaterEqual, Value: 5000.0, DataType: domain.DataTypeNumber},
				{Field: "channel", Operator: domain.OpIn, Value: []any{"online", "mobile"}, DataType: domain.DataTypeString},
			},
			Action:      domain.ActionAlert,
			Severity:    domain.SeverityMedium,
			ScoreWeight: 20,
		},
		{
			Name:        "Burst of card payments",
			Description: "Customer exceeded ten payments inside the velocity window",
			Type:        domain.RuleTypeVelocity,
			Conditions: []domain.RuleCondition{
				{Field: "velocity_count", Operator: domain.OpGreater, Value: 10.0, DataType: domain.DataTypeNumber},
			},
			Action:      domain.ActionAlert,
			Severity:    domain.SeverityHigh,
			ScoreWeight: 25,
		},
		{
			Name:        "Night transfer",
			Description: "Transfer between 00:00 and 04:59 UTC",
			Type:        domain.RuleTypeTime,
			Conditions: []domain.RuleCondition{
				{Field: "type", Operator: domain.OpEqual, Value: "transfer", DataType: domain.DataTypeString},
				{Field: "hour", Operator: domain.OpLess, Value: 5.0, DataType: domain.DataTypeNumber},
			},
			Action:      domain.ActionLog,
			Severity:    domain.SeverityLow,
			ScoreWeight: 10,
		},
		{
			Name:        "Withdrawal from unverified device",
			Description: "Withdrawal where the device is flagged unverified or emulated",
			Type:        domain.RuleTypeDevice,
			Conditions: []domain.RuleCondition{
				{Field: "type", Operator: domain.OpEqual, Value: "withdrawal", DataType: domain.DataTypeString},
				{Field: "device_verified", Operator: domain.OpEqual, Value: false, DataType: domain.DataTypeBoolean},
				{Field: "emulator", Operator: domain.OpEqual, Value: true, DataType: domain.DataTypeBoolean},
			},
			Logic:       domain.AllOf(domain.Cond(0), domain.AnyOf(domain.Cond(1), domain.Cond(2))),
			Action:      domain.ActionChallenge,
			Severity:    domain.SeverityHigh,
			ScoreWeight: 30,
		},
	}
}

// SeedBuiltinRules installs the starter rules when the engine holds none.
func SeedBuiltinRules(ctx context.Context, e *Engine) error {
	if len(e.List(false)) > 0 {
		return nil
	}
	for _, r := range BuiltinRules() {
		if _, err := e.CreateRule(ctx, r); err != nil {
			return err
		}
	}
	slog.Info("seeded builtin rules", "count", len(BuiltinRules()))
	return nil
}
