package remote

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Backends hand rows back in whatever shape their driver produces: native
// values, strings, raw bytes or json.Number. The decoders below accept all of
// them so entity mappers stay backend-agnostic.

const dateFormat = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	dateFormat,
}

// String returns the column as a string, or "" when absent or null.
func String(r Row, col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the column as a bool, or def when absent or null.
func Bool(r Row, col string, def bool) bool {
	switch v := r[col].(type) {
	case nil:
		return def
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case json.Number:
		return v.String() != "0"
	case []byte:
		return parseBool(string(v), def)
	case string:
		return parseBool(v, def)
	default:
		return def
	}
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes":
		return true
	case "0", "f", "false", "no":
		return false
	}
	return def
}

// Decimal returns the column as a decimal. Absent or null columns are zero.
func Decimal(r Row, col string) (decimal.Decimal, error) {
	switch v := r[col].(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return v, nil
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, nil
		}
		return *v, nil
	case string:
		return parseDecimal(col, v)
	case []byte:
		return parseDecimal(col, string(v))
	case json.Number:
		return parseDecimal(col, v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case *big.Rat:
		if v == nil {
			return decimal.Zero, nil
		}
		return parseDecimal(col, v.FloatString(9))
	default:
		return decimal.Zero, fmt.Errorf("Decimal: column %q: unsupported type %T", col, v)
	}
}

func parseDecimal(col, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Decimal: column %q: %w", col, err)
	}
	return d, nil
}

// Date returns the column as a calendar date. ok is false when the column is
// absent or null. Timestamps are truncated to their date part.
func Date(r Row, col string) (d civil.Date, ok bool, err error) {
	switch v := r[col].(type) {
	case nil:
		return civil.Date{}, false, nil
	case civil.Date:
		return v, true, nil
	case time.Time:
		return civil.DateOf(v), true, nil
	case string:
		return parseDate(col, v)
	case []byte:
		return parseDate(col, string(v))
	default:
		return civil.Date{}, false, fmt.Errorf("Date: column %q: unsupported type %T", col, v)
	}
}

func parseDate(col, s string) (civil.Date, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, false, nil
	}
	if len(s) > len(dateFormat) {
		s = s[:len(dateFormat)]
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("Date: column %q: %w", col, err)
	}
	return d, true, nil
}

// Time returns the column as a timestamp. Absent or null columns yield the
// zero time.
func Time(r Row, col string) (time.Time, error) {
	switch v := r[col].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case civil.Date:
		return v.In(time.UTC), nil
	case string:
		return parseTime(col, v)
	case []byte:
		return parseTime(col, string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("Time: column %q: unsupported type %T", col, v)
	}
}

func parseTime(col, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("Time: column %q: unrecognised timestamp %q", col, s)
}

// JSON decodes a JSON column into v. ok is false when the column is absent or
// null.
func JSON(r Row, col string, v any) (ok bool, err error) {
	var raw []byte
	switch val := r[col].(type) {
	case nil:
		return false, nil
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	case json.RawMessage:
		raw = val
	default:
		raw, err = json.Marshal(val)
		if err != nil {
			return false, fmt.Errorf("JSON: column %q: marshal: %w", col, err)
		}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("JSON: column %q: %w", col, err)
	}
	return true, nil
}

// SQLValue converts a row value into something database/sql style drivers
// accept: decimals and dates become their canonical strings, structured values
// become JSON text.
func SQLValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int, int64, float64, time.Time:
		return val, nil
	case decimal.Decimal:
		return val.String(), nil
	case civil.Date:
		return val.String(), nil
	case *civil.Date:
		if val == nil {
			return nil, nil
		}
		return val.String(), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case []byte:
		return string(val), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("SQLValue: marshal %T: %w", v, err)
		}
		if string(raw) == "null" {
			return nil, nil
		}
		return string(raw), nil
	}
}

// DecodeJSONRow parses a row serialised as a JSON object, keeping numbers as
// json.Number so decimals survive without float rounding.
func DecodeJSONRow(raw []byte) (Row, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	row := Row{}
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("DecodeJSONRow: %w", err)
	}
	return row, nil
}
