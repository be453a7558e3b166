package condition

import "strings"

const (
	DefaultCurrency = "USD"
	DefaultCountry  = "US"
)

// TransactionContext is the per-decision input to routing. It is never
// persisted.
type TransactionContext struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Country       string  `json:"country,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	PaymentMethod *string `json:"payment_method,omitempty"`
	RiskScore     float64 `json:"risk_score,omitempty"`
	TestMode      *bool   `json:"test_mode,omitempty"`
}

// WithDefaults fills currency and country and upper-cases the codes.
func (t TransactionContext) WithDefaults() TransactionContext {
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	t.Country = strings.ToUpper(strings.TrimSpace(t.Country))
	if t.Country == "" {
		t.Country = DefaultCountry
	}
	return t
}

// Value resolves a field against the context. ok is false for fields
// outside the closed set; a nil value with ok=true means the optional
// attribute is absent.
func (t TransactionContext) Value(field Field) (value *Literal, ok bool) {
	switch field {
	case FieldAmount:
		v := Number(t.Amount)
		return &v, true
	case FieldRiskScore:
		v := Number(t.RiskScore)
		return &v, true
	case FieldCurrency:
		v := String(t.Currency)
		return &v, true
	case FieldCountry:
		v := String(t.Country)
		return &v, true
	case FieldUserID:
		if t.UserID == nil {
			return nil, true
		}
		v := String(*t.UserID)
		return &v, true
	case FieldPaymentMethod:
		if t.PaymentMethod == nil {
			return nil, true
		}
		v := String(*t.PaymentMethod)
		return &v, true
	default:
		return nil, false
	}
}
