// Package submission holds the in-memory workbook contents keyed by
// schema-canonical table names, and answers the cross-table reference
// questions the policy/specification/dispatch stages depend on.
package submission

import (
	"fmt"
	"strconv"
	"time"
)

// Kind discriminates the variants of Value: a typed row sequence stands in
// for dataframe-style dtype inference.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindDateTime
)

// Value is a tagged-sum cell value: exactly one of its typed accessors is
// meaningful, discriminated by Kind.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	t    time.Time
}

func Null() Value                  { return Value{kind: KindNull} }
func Int(v int64) Value            { return Value{kind: KindInt, i: v} }
func Float(v float64) Value        { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value            { return Value{kind: KindBool, b: v} }
func String(v string) Value        { return Value{kind: KindString, s: v} }
func DateTime(v time.Time) Value   { return Value{kind: KindDateTime, t: v} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }

// Int64 returns the value as an int64, coercing from Float if the value is
// integral. ok is false for Null, non-numeric, or non-integral Float values.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}
	}
	return 0, false
}

// Float64 returns the value as a float64. ok is false for Null or non-numeric values.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Bool returns the boolean value. ok is false unless Kind is KindBool.
func (v Value) Bool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// Str returns the value rendered as a string, for XML emission and logging.
// This never fails: every Kind has a textual representation.
func (v Value) Str() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	case KindDateTime:
		return v.t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DType names the actual representation kind the way the type-compatibility
// matrix names it (float64/object/int64/datetime64), distinct from the
// schema's declared DataType.
func (v Value) DType() string {
	switch v.kind {
	case KindInt:
		return "int64"
	case KindFloat:
		return "float64"
	case KindDateTime:
		return "datetime64"
	case KindBool, KindString, KindNull:
		return "object"
	default:
		return "object"
	}
}
