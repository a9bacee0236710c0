package domain

import "time"

// RuleType classifies a fraud rule.
type RuleType string

const (
	RuleTypeThreshold  RuleType = "threshold"
	RuleTypeVelocity   RuleType = "velocity"
	RuleTypePattern    RuleType = "pattern"
	RuleTypeGeographic RuleType = "geographic"
	RuleTypeBehavioral RuleType = "behavioral"
	RuleTypeDevice     RuleType = "device"
	RuleTypeTime       RuleType = "time"
	RuleTypeComposite  RuleType = "composite"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeThreshold, RuleTypeVelocity, RuleTypePattern, RuleTypeGeographic,
		RuleTypeBehavioral, RuleTypeDevice, RuleTypeTime, RuleTypeComposite:
		return true
	}
	return false
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpIn           Operator = "in"
)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpIn:
		return true
	}
	return false
}

// DataType is the declared type used to compare a condition value.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
)

// Valid reports whether d is a supported data type.
func (d DataType) Valid() bool {
	return d == DataTypeString || d == DataTypeNumber || d == DataTypeBoolean
}

// RuleAction is what a matched rule recommends.
type RuleAction string

const (
	ActionLog       RuleAction = "log"
	ActionAlert     RuleAction = "alert"
	ActionChallenge RuleAction = "challenge"
	ActionBlock     RuleAction = "block"
)

// Rank orders actions from least to most restrictive.
func (a RuleAction) Rank() int {
	switch a {
	case ActionAlert:
		return 1
	case ActionChallenge:
		return 2
	case ActionBlock:
		return 3
	default:
		return 0
	}
}

// Valid reports whether a is a known action.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionLog, ActionAlert, ActionChallenge, ActionBlock:
		return true
	}
	return false
}

// RuleStatus is the activation status of a rule.
type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RuleInactive RuleStatus = "inactive"
)

// RuleCondition is a single typed comparison against an event field.
// Conditions are immutable once attached to a rule version.
type RuleCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	DataType DataType `json:"dataType"`
}

// ExprOp tags an Expr node.
type ExprOp string

const (
	ExprAll  ExprOp = "all"
	ExprAny  ExprOp = "any"
	ExprNot  ExprOp = "not"
	ExprCond ExprOp = "cond"
)

// Expr is the logic expression combining a rule's condition results.
// Leaves reference conditions by index.
type Expr struct {
	Op    ExprOp  `json:"op"`
	Args  []*Expr `json:"args,omitempty"`
	Index int     `json:"index,omitempty"`
}

// AllOf matches when every argument matches.
func AllOf(args ...*Expr) *Expr { return &Expr{Op: ExprAll, Args: args} }

// AnyOf matches when at least one argument matches.
func AnyOf(args ...*Expr) *Expr { return &Expr{Op: ExprAny, Args: args} }

// Not negates its argument.
func Not(arg *Expr) *Expr { return &Expr{Op: ExprNot, Args: []*Expr{arg}} }

// Cond references the condition at index i.
func Cond(i int) *Expr { return &Expr{Op: ExprCond, Index: i} }

// FraudRule is an administrator-defined detection rule.
type FraudRule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        RuleType        `json:"type"`
	Conditions  []RuleCondition `json:"conditions"`

	// Logic combines condition results. Nil means all conditions must match.
	Logic *Expr `json:"logic,omitempty"`

	// Guard is an optional CEL expression that must also hold for a match.
	Guard string `json:"guard,omitempty"`

	Action      RuleAction `json:"action"`
	Severity    Severity   `json:"severity"`
	ScoreWeight float64    `json:"scoreWeight"`
	Status      RuleStatus `json:"status"`
	Version     int        `json:"version"`

	HitCount  int64      `json:"hitCount"`
	LastHitAt *time.Time `json:"lastHitAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Active reports whether the rule participates in evaluation.
func (r *FraudRule) Active() bool {
	return r.Status == RuleActive
}

// RuleResult is the outcome of evaluating one active rule against an event.
type RuleResult struct {
	RuleID            string     `json:"ruleId"`
	RuleName          string     `json:"ruleName,omitempty"`
	RuleType          RuleType   `json:"ruleType,omitempty"`
	Matched           bool       `json:"matched"`
	ConditionsMatched int        `json:"conditionsMatched"`
	ConditionsTotal   int        `json:"conditionsTotal"`
	Score             float64    `json:"score"`
	Action            RuleAction `json:"action"`
	Severity          Severity   `json:"severity,omitempty"`

	// Fault describes an evaluation fault that forced a non-match.
	Fault string `json:"fault,omitempty"`
}
