package sqltemplate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsupportedType is matched by every UnsupportedTypeError.
var ErrUnsupportedType = errors.New("unsupported parameter type")

// UnsupportedTypeError reports a parameter value that cannot be rendered.
type UnsupportedTypeError struct {
	Name   string
	Value  any
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported parameter type for %q: %T (%s)", e.Name, e.Value, e.Reason)
	}
	return fmt.Sprintf("unsupported parameter type for %q: %T", e.Name, e.Value)
}

func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// ValidateValues checks every value in params, in name order, and returns the
// first rendering failure.
func ValidateValues(params map[string]any) error {
	return validateValues(params, newOptions(nil))
}

func validateValues(params map[string]any, o options) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := literal(name, params[name], o); err != nil {
			return err
		}
	}
	return nil
}

// Literal renders value as a SQL literal. Strings are single-quoted with
// embedded quotes doubled, numbers are emitted as their text, nil is NULL.
// Floats use their shortest JSON form so a value renders identically before
// and after a JSON round trip.
func Literal(name string, value any) (string, error) {
	return literal(name, value, newOptions(nil))
}

func literal(name string, value any, o options) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case string:
		if o.backslashEscapes {
			v = strings.ReplaceAll(v, `\`, `\\`)
		}
		return quote(v, '\''), nil
	case json.Number:
		if _, err := strconv.ParseFloat(string(v), 64); err != nil {
			return "", &UnsupportedTypeError{Name: name, Value: value, Reason: "malformed number"}
		}
		return string(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return formatFloat(name, value, float64(v), 32)
	case float64:
		return formatFloat(name, value, v, 64)
	default:
		return "", &UnsupportedTypeError{Name: name, Value: value}
	}
}

// Identifier renders value wrapped in the identifier quote.
func Identifier(name string, value any, identQuote byte) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", &UnsupportedTypeError{Name: name, Value: value, Reason: "identifier cannot be NULL"}
	case string:
		return quote(v, identQuote), nil
	}
	text, err := Literal(name, value)
	if err != nil {
		return "", err
	}
	return quote(text, identQuote), nil
}

func formatFloat(name string, original any, v float64, bits int) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", &UnsupportedTypeError{Name: name, Value: original, Reason: "not a finite number"}
	}
	var encoded []byte
	var err error
	if bits == 32 {
		encoded, err = json.Marshal(float32(v))
	} else {
		encoded, err = json.Marshal(v)
	}
	if err != nil {
		return "", &UnsupportedTypeError{Name: name, Value: original, Reason: err.Error()}
	}
	return string(encoded), nil
}

func quote(text string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(text, s, s+s) + s
}
