package resource

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the storage type of a field, used to coerce request values.
type Kind string

const (
	KindString  Kind = "string"
	KindText    Kind = "text"
	KindInt     Kind = "int"
	KindDecimal Kind = "decimal"
	KindBool    Kind = "bool"
	KindDate    Kind = "date"
	KindTime    Kind = "timestamp"
	KindJSON    Kind = "json"
)

// DateLayout is the wire format of KindDate values.
const DateLayout = "2006-01-02"

// CoerceError is returned when a value cannot be converted to a Kind. Message
// is safe to show to clients.
type CoerceError struct {
	Kind    Kind
	Message string
}

func (e *CoerceError) Error() string { return e.Message }

func coerceErr(k Kind) error {
	msg := "valor no válido"
	switch k {
	case KindString, KindText:
		msg = "debe ser un texto"
	case KindInt:
		msg = "debe ser un número entero"
	case KindDecimal:
		msg = "debe ser un valor numérico"
	case KindBool:
		msg = "debe ser verdadero o falso"
	case KindDate:
		msg = "debe ser una fecha con formato AAAA-MM-DD"
	case KindTime:
		msg = "debe ser una fecha y hora válida"
	case KindJSON:
		msg = "debe ser un JSON válido"
	}
	return &CoerceError{Kind: k, Message: msg}
}

// Coerce converts a decoded JSON value (or a query-string value) to the Go type
// stored for k. nil stays nil. KindJSON values are returned as their encoded
// string so the driver sends them as text.
func Coerce(k Kind, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch k {
	case KindString, KindText:
		s, ok := raw.(string)
		if !ok {
			return nil, coerceErr(k)
		}
		return s, nil
	case KindInt:
		return coerceInt(raw)
	case KindDecimal:
		return coerceDecimal(raw)
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, coerceErr(k)
			}
			return b, nil
		}
		return nil, coerceErr(k)
	case KindDate:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(DateLayout, strings.TrimSpace(v))
			if err != nil {
				return nil, coerceErr(k)
			}
			return t, nil
		}
		return nil, coerceErr(k)
	case KindTime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			t, _, err := ParseTime(v)
			if err != nil {
				return nil, coerceErr(k)
			}
			return t, nil
		}
		return nil, coerceErr(k)
	case KindJSON:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, coerceErr(k)
		}
		return string(b), nil
	}
	return nil, coerceErr(k)
}

func coerceInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, coerceErr(KindInt)
		}
		return n, nil
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
		if v != math.Trunc(v) || v < float64(math.MinInt64) || v >= float64(math.MaxInt64) {
			return nil, coerceErr(KindInt)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, coerceErr(KindInt)
		}
		return n, nil
	}
	return nil, coerceErr(KindInt)
}

func coerceDecimal(raw any) (any, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil, coerceErr(KindDecimal)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, coerceErr(KindDecimal)
		}
		return d, nil
	}
	return nil, coerceErr(KindDecimal)
}

// ParseTime accepts RFC 3339, "2006-01-02 15:04:05" and bare dates. dateOnly
// reports whether the input had no time component.
func ParseTime(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if t, err = time.Parse(DateLayout, s); err == nil {
		return t, true, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err = time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, err
}
