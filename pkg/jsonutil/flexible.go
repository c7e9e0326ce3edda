package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// LLMs return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return strconv.FormatFloat(numVal, 'f', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleString decodes any JSON scalar into a string. Null leaves Valid false.
type FlexibleString struct {
	Value string
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleString) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*f = FlexibleString{}
		return nil
	}
	*f = FlexibleString{Value: FlexibleStringValue(raw), Valid: true}
	return nil
}

// Ptr returns nil when the value was null or absent.
func (f FlexibleString) Ptr() *string {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// FlexibleFloat decodes a number that LLMs may send as a number, a numeric
// string, or a percentage string ("85%" becomes 0.85). Anything unparsable
// leaves Valid false rather than failing the whole document.
type FlexibleFloat struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleFloat) UnmarshalJSON(raw []byte) error {
	*f = FlexibleFloat{}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		*f = FlexibleFloat{Value: num, Valid: true}
		return nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil
	}
	if v, ok := ParseFloat(str); ok {
		*f = FlexibleFloat{Value: v, Valid: true}
	}
	return nil
}

// Or returns the value, or def when it was missing or unparsable.
func (f FlexibleFloat) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

// ParseFloat parses "0.8", " 0.8 " or "80%" (as 0.8).
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if percent {
		v /= 100
	}
	return v, true
}

// String implements fmt.Stringer.
func (f FlexibleFloat) String() string {
	if !f.Valid {
		return "<nil>"
	}
	return fmt.Sprintf("%g", f.Value)
}
