package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/payrouter/internal/observability/logger"
	"github.com/smallbiznis/payrouter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Evaluate compares a resolved field value against a literal. A nil
// fieldValue is an absent optional attribute. Configuration problems return
// the safe default together with a non-nil error; callers that must keep
// routing available log the error and use the boolean.
func Evaluate(fieldValue *Literal, op Operator, literal Literal) (bool, error) {
	switch op {
	case OpEq:
		if fieldValue == nil {
			return false, nil
		}
		return equal(*fieldValue, literal), nil
	case OpNe:
		if fieldValue == nil {
			return true, nil
		}
		return !equal(*fieldValue, literal), nil
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(fieldValue, op, literal)
	case OpIn:
		if !literal.IsList() {
			return false, ErrListRequired
		}
		if fieldValue == nil {
			return false, nil
		}
		return member(*fieldValue, literal.List), nil
	case OpNotIn:
		if !literal.IsList() {
			return true, ErrListRequired
		}
		if fieldValue == nil {
			return true, nil
		}
		return !member(*fieldValue, literal.List), nil
	case OpContains:
		if fieldValue == nil {
			return false, nil
		}
		return strings.Contains(normalize(fieldValue.Text()), normalize(literal.Text())), nil
	case OpStartsWith:
		if fieldValue == nil {
			return false, nil
		}
		return strings.HasPrefix(normalize(fieldValue.Text()), normalize(literal.Text())), nil
	case OpEndsWith:
		if fieldValue == nil {
			return false, nil
		}
		return strings.HasSuffix(normalize(fieldValue.Text()), normalize(literal.Text())), nil
	case OpRegex:
		re, err := compilePattern(literal.Text())
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		if fieldValue == nil {
			return false, nil
		}
		return re.MatchString(fieldValue.Text()), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

func compareNumeric(fieldValue *Literal, op Operator, literal Literal) (bool, error) {
	if fieldValue == nil {
		return false, nil
	}
	left, ok := fieldValue.Float()
	if !ok {
		return false, nil
	}
	right, ok := literal.Float()
	if !ok {
		return false, ErrNumberRequired
	}
	switch op {
	case OpGt:
		return left > right, nil
	case OpGte:
		return left >= right, nil
	case OpLt:
		return left < right, nil
	default:
		return left <= right, nil
	}
}

// equal compares numerically when both sides coerce to numbers and falls
// back to case-insensitive text comparison.
func equal(a, b Literal) bool {
	if a.Kind == KindNumber || b.Kind == KindNumber {
		left, lok := a.Float()
		right, rok := b.Float()
		if lok && rok {
			return left == right
		}
	}
	if a.Kind == KindBool && b.Kind == KindBool {
		return a.Bool == b.Bool
	}
	return normalize(a.Text()) == normalize(b.Text())
}

func member(v Literal, items []Literal) bool {
	for _, item := range items {
		if equal(v, item) {
			return true
		}
	}
	return false
}

// Evaluator applies condition lists to transaction contexts. Configuration
// errors are logged and counted, never returned.
type Evaluator struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func NewEvaluator(p Params) *Evaluator {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{log: log.Named("condition.evaluator"), metrics: p.Metrics}
}

// Match reports whether every condition holds. An empty list matches.
func (e *Evaluator) Match(ctx context.Context, tx TransactionContext, conditions []Condition) bool {
	for _, c := range conditions {
		if !e.Holds(ctx, tx, c) {
			return false
		}
	}
	return true
}

func (e *Evaluator) Holds(ctx context.Context, tx TransactionContext, c Condition) bool {
	value, ok := tx.Value(c.Field)
	if !ok {
		e.warn(ctx, c, ErrUnknownField)
		return false
	}

	matched, err := Evaluate(value, c.Operator, c.Value)
	if err != nil {
		e.warn(ctx, c, err)
	}
	return matched
}

func (e *Evaluator) warn(ctx context.Context, c Condition, err error) {
	logger.WithContext(ctx, e.log).Warn("condition configuration error",
		zap.String("field", string(c.Field)),
		zap.String("operator", string(c.Operator)),
		zap.Error(err),
	)
	e.metrics.RecordConditionError(ctx, string(c.Operator), reasonOf(err))
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, ErrUnknownOperator):
		return "unknown_operator"
	case errors.Is(err, ErrListRequired):
		return "list_required"
	case errors.Is(err, ErrNumberRequired):
		return "number_required"
	case errors.Is(err, ErrInvalidPattern):
		return "invalid_pattern"
	default:
		return "unknown"
	}
}
