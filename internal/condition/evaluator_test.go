package condition

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func strPtr(s string) *string { return &s }

func lit(l Literal) *Literal { return &l }

func TestEvaluateOperators(t *testing.T) {
	cases := []struct {
		name  string
		value *Literal
		op    Operator
		lit   Literal
		want  bool
	}{
		{"eq case insensitive", lit(String("usd")), OpEq, String("USD"), true},
		{"eq numeric", lit(Number(100)), OpEq, String("100"), true},
		{"ne", lit(String("EUR")), OpNe, String("USD"), true},
		{"gt", lit(Number(150)), OpGt, Number(100), true},
		{"gt string literal coerced", lit(Number(150)), OpGt, String("200"), false},
		{"gte boundary", lit(Number(100)), OpGte, Number(100), true},
		{"lt", lit(Number(0.2)), OpLt, Number(0.5), true},
		{"lte", lit(Number(-5)), OpLte, Number(0), true},
		{"in", lit(String("de")), OpIn, Strings("US", "DE"), true},
		{"in miss", lit(String("FR")), OpIn, Strings("US", "DE"), false},
		{"not_in", lit(String("FR")), OpNotIn, Strings("US", "DE"), true},
		{"contains", lit(String("Credit_Card")), OpContains, String("card"), true},
		{"starts_with", lit(String("user_123")), OpStartsWith, String("USER_"), true},
		{"ends_with", lit(String("apple_pay")), OpEndsWith, String("PAY"), true},
		{"regex case insensitive", lit(String("VIP-42")), OpRegex, String("^vip-\\d+$"), true},
		{"regex miss", lit(String("guest")), OpRegex, String("^vip"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.value, tc.op, tc.lit)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateSafeDefaults(t *testing.T) {
	got, err := Evaluate(lit(String("US")), OpIn, String("US"))
	assert.ErrorIs(t, err, ErrListRequired)
	assert.False(t, got)

	got, err = Evaluate(lit(String("US")), OpNotIn, String("US"))
	assert.ErrorIs(t, err, ErrListRequired)
	assert.True(t, got)

	got, err = Evaluate(lit(String("abc")), OpRegex, String("(unclosed"))
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.False(t, got)

	got, err = Evaluate(lit(String("abc")), Operator("between"), String("a"))
	assert.ErrorIs(t, err, ErrUnknownOperator)
	assert.False(t, got)

	got, err = Evaluate(lit(Number(10)), OpGt, String("ten"))
	assert.ErrorIs(t, err, ErrNumberRequired)
	assert.False(t, got)
}

func TestEvaluateAbsentOptionalValue(t *testing.T) {
	cases := map[Operator]bool{
		OpEq:         false,
		OpNe:         true,
		OpGt:         false,
		OpIn:         false,
		OpNotIn:      true,
		OpContains:   false,
		OpStartsWith: false,
		OpRegex:      false,
	}
	for op, want := range cases {
		literal := String("x")
		if op == OpIn || op == OpNotIn {
			literal = Strings("x")
		}
		if op == OpGt {
			literal = Number(1)
		}
		got, err := Evaluate(nil, op, literal)
		require.NoError(t, err, op)
		assert.Equal(t, want, got, op)
	}
}

func TestEvaluatorMatch(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ev := NewEvaluator(Params{Log: zap.New(core)})
	ctx := context.Background()
	tx := TransactionContext{Amount: 250, Currency: "usd", PaymentMethod: strPtr("card")}.WithDefaults()

	assert.True(t, ev.Match(ctx, tx, nil), "empty list matches")
	assert.True(t, ev.Match(ctx, tx, []Condition{
		{Field: FieldCurrency, Operator: OpEq, Value: String("USD")},
		{Field: FieldAmount, Operator: OpGte, Value: Number(100)},
		{Field: FieldCountry, Operator: OpEq, Value: String("US")},
	}))
	assert.False(t, ev.Match(ctx, tx, []Condition{
		{Field: FieldCurrency, Operator: OpEq, Value: String("USD")},
		{Field: FieldAmount, Operator: OpLt, Value: Number(100)},
	}))
	assert.Equal(t, 0, logs.Len())

	assert.False(t, ev.Match(ctx, tx, []Condition{
		{Field: Field("merchant_tier"), Operator: OpEq, Value: String("gold")},
	}))
	assert.False(t, ev.Match(ctx, tx, []Condition{
		{Field: FieldPaymentMethod, Operator: OpRegex, Value: String("[")},
	}))
	assert.Equal(t, 2, logs.Len())
}

func TestValidate(t *testing.T) {
	valid := Condition{Field: FieldCountry, Operator: OpIn, Value: Strings("US", "CA")}
	require.NoError(t, valid.Validate())

	assert.ErrorIs(t, Condition{Field: "merchant", Operator: OpEq, Value: String("x")}.Validate(), ErrUnknownField)
	assert.ErrorIs(t, Condition{Field: FieldAmount, Operator: "approx", Value: Number(1)}.Validate(), ErrUnknownOperator)
	assert.ErrorIs(t, Condition{Field: FieldCountry, Operator: OpIn, Value: String("US")}.Validate(), ErrListRequired)
	assert.ErrorIs(t, Condition{Field: FieldAmount, Operator: OpGt, Value: Bool(true)}.Validate(), ErrNumberRequired)
	assert.ErrorIs(t, Condition{Field: FieldUserID, Operator: OpRegex, Value: String("(")}.Validate(), ErrInvalidPattern)
	assert.ErrorIs(t, Condition{Field: FieldUserID, Operator: OpEq}.Validate(), ErrMissingLiteral)

	err := ValidateAll([]Condition{valid, {Field: "merchant", Operator: OpEq, Value: String("x")}})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestConditionJSONRoundTripKeepsLiteralKinds(t *testing.T) {
	raw := `[{"field":"amount","operator":"gt","value":100},
		{"field":"country","operator":"in","value":["US","CA"]},
		{"field":"user_id","operator":"eq","value":"u-1"}]`

	var conditions []Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &conditions))
	require.Len(t, conditions, 3)
	assert.Equal(t, KindNumber, conditions[0].Value.Kind)
	assert.Equal(t, KindList, conditions[1].Value.Kind)
	assert.Len(t, conditions[1].Value.List, 2)
	assert.Equal(t, KindString, conditions[2].Value.Kind)

	encoded, err := json.Marshal(conditions)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(encoded))
}

func TestLiteralRejectsObjects(t *testing.T) {
	var l Literal
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &l))
}
