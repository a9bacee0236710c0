package rules

import (
	"encoding/json"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestEvaluateConditionNumber(t *testing.T) {
	tests := []struct {
		op       domain.Operator
		observed any
		value    any
		want     bool
	}{
		{domain.OpEqual, 100.0, 100.0, true},
		{domain.OpEqual, 100, "100", true},
		{domain.OpNotEqual, 100.0, 99.0, true},
		{domain.OpGreater, 100.0, 99.0, true},
		{domain.OpGreater, 99.0, 99.0, false},
		{domain.OpGreaterEqual, 99.0, 99.0, true},
		{domain.OpLess, 5.0, 10.0, true},
		{domain.OpLessEqual, 10.0, 10.0, true},
		{domain.OpLessEqual, 10.5, 10.0, false},
		{domain.OpIn, 3.0, []any{1.0, 2.0, 3.0}, true},
		{domain.OpIn, 4.0, []any{1.0, 2.0, 3.0}, false},
		{domain.OpIn, 2.0, "1, 2, 3", true},
		{domain.OpGreater, "abc", 1.0, false},
		{domain.OpGreater, json.Number("12.5"), 12.0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			cond := domain.RuleCondition{Field: "amount", Operator: tt.op, Value: tt.value, DataType: domain.DataTypeNumber}
			if got := EvaluateCondition(cond, tt.observed, true); got != tt.want {
				t.Errorf("%v %s %v: expected %v, got %v", tt.observed, tt.op, tt.value, tt.want, got)
			}
		})
	}
}

func TestEvaluateConditionString(t *testing.T) {
	cond := domain.RuleCondition{Field: "channel", Operator: domain.OpEqual, Value: "online", DataType: domain.DataTypeString}
	if !EvaluateCondition(cond, "online", true) {
		t.Error("expected equal strings to match")
	}
	if EvaluateCondition(cond, "Online", true) {
		t.Error("string comparison should be case sensitive")
	}

	in := domain.RuleCondition{Field: "country", Operator: domain.OpIn, Value: []any{"NG", "RU"}, DataType: domain.DataTypeString}
	if !EvaluateCondition(in, "RU", true) {
		t.Error("expected RU to be in list")
	}
	if EvaluateCondition(in, "US", true) {
		t.Error("expected US not to be in list")
	}
}

func TestEvaluateConditionBoolean(t *testing.T) {
	cond := domain.RuleCondition{Field: "emulator", Operator: domain.OpEqual, Value: true, DataType: domain.DataTypeBoolean}
	if !EvaluateCondition(cond, true, true) {
		t.Error("expected true == true")
	}
	if !EvaluateCondition(cond, "true", true) {
		t.Error("expected string true to coerce")
	}
	if EvaluateCondition(cond, false, true) {
		t.Error("expected false != true")
	}

	gt := domain.RuleCondition{Field: "emulator", Operator: domain.OpGreater, Value: true, DataType: domain.DataTypeBoolean}
	if EvaluateCondition(gt, true, true) {
		t.Error("ordering is undefined for booleans")
	}
}

func TestEvaluateConditionMissingField(t *testing.T) {
	cond := domain.RuleCondition{Field: "amount", Operator: domain.OpNotEqual, Value: 1.0, DataType: domain.DataTypeNumber}
	if EvaluateCondition(cond, nil, false) {
		t.Error("missing field must never match, even for !=")
	}
}

func TestEvaluateConditionUnknownOperator(t *testing.T) {
	cond := domain.RuleCondition{Field: "amount", Operator: "~=", Value: 1.0, DataType: domain.DataTypeNumber}
	if EvaluateCondition(cond, 1.0, true) {
		t.Error("unknown operator must never match")
	}
	if conditionFault(cond) == "" {
		t.Error("expected unknown operator to be reported as a fault")
	}
}

func TestValidateCondition(t *testing.T) {
	tests := []struct {
		name    string
		cond    domain.RuleCondition
		wantErr bool
	}{
		{"valid number", domain.RuleCondition{Field: "amount", Operator: domain.OpGreater, Value: 10.0, DataType: domain.DataTypeNumber}, false},
		{"empty field", domain.RuleCondition{Operator: domain.OpGreater, Value: 10.0, DataType: domain.DataTypeNumber}, true},
		{"bad operator", domain.RuleCondition{Field: "amount", Operator: "between", Value: 10.0, DataType: domain.DataTypeNumber}, true},
		{"bad data type", domain.RuleCondition{Field: "amount", Operator: domain.OpEqual, Value: 10.0, DataType: "decimal"}, true},
		{"uncoercible", domain.RuleCondition{Field: "amount", Operator: domain.OpGreater, Value: "lots", DataType: domain.DataTypeNumber}, true},
		{"empty in list", domain.RuleCondition{Field: "country", Operator: domain.OpIn, Value: []any{}, DataType: domain.DataTypeString}, true},
		{"boolean ordering", domain.RuleCondition{Field: "vpn", Operator: domain.OpLess, Value: true, DataType: domain.DataTypeBoolean}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCondition(0, tt.cond)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
