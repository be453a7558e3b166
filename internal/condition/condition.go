// Package condition implements the flat comparison language used by routing
// rules: a closed set of transaction fields, a closed set of operators and
// a literal on the right-hand side.
package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Field string

const (
	FieldAmount        Field = "amount"
	FieldCurrency      Field = "currency"
	FieldCountry       Field = "country"
	FieldUserID        Field = "user_id"
	FieldPaymentMethod Field = "payment_method"
	FieldRiskScore     Field = "risk_score"
)

func (f Field) Valid() bool {
	switch f {
	case FieldAmount, FieldCurrency, FieldCountry, FieldUserID, FieldPaymentMethod, FieldRiskScore:
		return true
	default:
		return false
	}
}

func (f Field) numeric() bool {
	return f == FieldAmount || f == FieldRiskScore
}

type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
		OpContains, OpStartsWith, OpEndsWith, OpRegex:
		return true
	default:
		return false
	}
}

func (o Operator) numeric() bool {
	return o == OpGt || o == OpGte || o == OpLt || o == OpLte
}

// Condition is a single comparison. Field and Operator are typed strings so
// legacy rows carrying values outside the enums still decode; such
// conditions never match.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    Literal  `json:"value"`
}

var (
	ErrUnknownField    = errors.New("unknown_condition_field")
	ErrUnknownOperator = errors.New("unknown_condition_operator")
	ErrListRequired    = errors.New("condition_list_literal_required")
	ErrNumberRequired  = errors.New("condition_numeric_literal_required")
	ErrInvalidPattern  = errors.New("condition_invalid_pattern")
	ErrMissingLiteral  = errors.New("condition_literal_required")
)

// Validate rejects conditions that could never be evaluated meaningfully.
// It runs when rules are written; evaluation itself stays tolerant.
func (c Condition) Validate() error {
	if !c.Field.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
	if c.Value.Kind == KindNull || c.Value.Kind == "" {
		return ErrMissingLiteral
	}

	switch {
	case c.Operator == OpIn || c.Operator == OpNotIn:
		if !c.Value.IsList() {
			return ErrListRequired
		}
	case c.Operator.numeric():
		if _, ok := c.Value.Float(); !ok {
			return ErrNumberRequired
		}
	case c.Operator == OpRegex:
		if _, err := compilePattern(c.Value.Text()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	}
	return nil
}

func ValidateAll(conditions []Condition) error {
	for i, c := range conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
