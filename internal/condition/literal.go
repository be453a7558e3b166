package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type LiteralKind string

const (
	KindNull   LiteralKind = "null"
	KindString LiteralKind = "string"
	KindNumber LiteralKind = "number"
	KindBool   LiteralKind = "bool"
	KindList   LiteralKind = "list"
)

// Literal is the right-hand side of a condition. Exactly one of the value
// fields is meaningful, selected by Kind.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
	Bool bool
	List []Literal
}

func String(v string) Literal { return Literal{Kind: KindString, Str: v} }
func Number(v float64) Literal { return Literal{Kind: KindNumber, Num: v} }
func Bool(v bool) Literal { return Literal{Kind: KindBool, Bool: v} }
func List(v ...Literal) Literal { return Literal{Kind: KindList, List: v} }
func Strings(v ...string) Literal {
	items := make([]Literal, 0, len(v))
	for _, s := range v {
		items = append(items, String(s))
	}
	return List(items...)
}

func (l Literal) IsList() bool { return l.Kind == KindList }

// Float coerces the literal to a number. Strings are parsed; bools and lists
// do not coerce.
func (l Literal) Float() (float64, bool) {
	switch l.Kind {
	case KindNumber:
		return l.Num, true
	case KindString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(l.Str), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Text renders the literal the way string operators see it.
func (l Literal) Text() string {
	switch l.Kind {
	case KindString:
		return l.Str
	case KindNumber:
		return strconv.FormatFloat(l.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(l.Bool)
	case KindList:
		parts := make([]string, 0, len(l.List))
		for _, item := range l.List {
			parts = append(parts, item.Text())
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return ""
	}
}

func (l Literal) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case KindString:
		return json.Marshal(l.Str)
	case KindNumber:
		return json.Marshal(l.Num)
	case KindBool:
		return json.Marshal(l.Bool)
	case KindList:
		items := l.List
		if items == nil {
			items = []Literal{}
		}
		return json.Marshal(items)
	default:
		return []byte("null"), nil
	}
}

func (l *Literal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = Literal{Kind: KindNull}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = String(s)
	case '[':
		var items []Literal
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = List(items...)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*l = Bool(b)
	case '{':
		return fmt.Errorf("condition literal cannot be an object")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*l = Number(n)
	}
	return nil
}
