package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Input is a numeric value as it arrives from a range control, a resize
// gesture or a remote document: a JSON number, or a string such as "120px"
// or "0.35". Only the leading numeric prefix of a string is used. Strings
// have separate fractional and integer readings: "1e3" is 1000 as a
// fraction but 1 as an integer, and ".5" has no integer reading.
type Input struct {
	value    float64
	valid    bool
	intValue float64
	intValid bool
}

// Num wraps an already numeric value.
func Num(v float64) *Input {
	valid := !math.IsNaN(v) && !math.IsInf(v, 0)
	return &Input{value: v, valid: valid, intValue: math.Trunc(v), intValid: valid}
}

// Raw parses s the way a form control value is parsed.
func Raw(s string) *Input {
	v, ok := parseLeadingNumber(s)
	iv, iok := parseLeadingInt(s)
	return &Input{value: v, valid: ok, intValue: iv, intValid: iok}
}

// InputFromValue converts a decoded document value (int64, float64, string,
// json.Number) into an Input. Unsupported types yield nil.
func InputFromValue(v interface{}) *Input {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return Num(n)
	case float32:
		return Num(float64(n))
	case int:
		return Num(float64(n))
	case int64:
		return Num(float64(n))
	case int32:
		return Num(float64(n))
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return Num(f)
		}
		return Raw(n.String())
	case string:
		return Raw(n)
	default:
		return nil
	}
}

func (in *Input) Valid() bool {
	return in != nil && in.valid
}

// ValidInt reports whether the input has an integer reading.
func (in *Input) ValidInt() bool {
	return in != nil && in.intValid
}

// Float returns the parsed value. ok is false for unparsable input.
func (in *Input) Float() (float64, bool) {
	if !in.Valid() {
		return 0, false
	}
	return in.value, true
}

// Int returns the integer reading: numbers truncate toward zero, strings
// use their leading run of digits only.
func (in *Input) Int() (int, bool) {
	if !in.ValidInt() {
		return 0, false
	}
	v := in.intValue
	if v > math.MaxInt32 {
		v = math.MaxInt32
	} else if v < math.MinInt32 {
		v = math.MinInt32
	}
	return int(v), true
}

func (in *Input) String() string {
	if !in.Valid() {
		return "NaN"
	}
	return strconv.FormatFloat(in.value, 'f', -1, 64)
}

func (in *Input) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*in = Input{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("numeric input: %w", err)
		}
		*in = *Raw(s)
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		// Keep the field but mark it unusable; the model ignores it.
		*in = Input{}
		return nil
	}
	*in = *Num(v)
	return nil
}

func (in Input) MarshalJSON() ([]byte, error) {
	if !in.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(in.value, 'f', -1, 64)), nil
}

// parseLeadingInt reads an optional sign and the digits that follow it.
func parseLeadingInt(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseLeadingNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		start := exp
		for exp < len(s) && s[exp] >= '0' && s[exp] <= '9' {
			exp++
		}
		if exp > start {
			end = exp
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
