package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the fixed-width UTC layout used when timestamps are stored as text, so that lexical
// order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// AsString returns string values and the textual form of ids.
func AsString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	default:
		return "", false
	}
}

// AsBool coerces booleans and their common textual spellings.
func AsBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case *bool:
		if v == nil {
			return false, false
		}
		return *v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// AsDecimal coerces any numeric representation, including JSON numbers and numeric strings.
func AsDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int8:
		return decimal.NewFromInt(int64(v)), true
	case int16:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromUint64(uint64(v)), true
	case uint8:
		return decimal.NewFromUint64(uint64(v)), true
	case uint16:
		return decimal.NewFromUint64(uint64(v)), true
	case uint32:
		return decimal.NewFromUint64(uint64(v)), true
	case uint64:
		return decimal.NewFromUint64(v), true
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// AsInt coerces numeric values to int64, truncating fractions.
func AsInt(value any) (int64, bool) {
	d, ok := AsDecimal(value)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// AsTime accepts time values and RFC 3339 strings.
func AsTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case decimal.Decimal, *decimal.Decimal, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func isTime(value any) bool {
	switch value.(type) {
	case time.Time, *time.Time:
		return true
	default:
		return false
	}
}

func isNil(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case *time.Time:
		return v == nil
	case *decimal.Decimal:
		return v == nil
	case *string:
		return v == nil
	default:
		return false
	}
}

const (
	rankNull = iota
	rankNumber
	rankString
	rankBool
	rankTime
	rankOther
)

func rank(value any) int {
	switch {
	case isNil(value):
		return rankNull
	case isNumeric(value):
		return rankNumber
	case isTime(value):
		return rankTime
	}
	switch value.(type) {
	case string, *string:
		return rankString
	case bool, *bool:
		return rankBool
	default:
		return rankOther
	}
}

// Compare orders two values: null before numbers before strings before booleans before timestamps.
// A timestamp compared with a string holding an RFC 3339 timestamp compares chronologically.
func Compare(a, b any) int {
	if isTime(a) || isTime(b) {
		ta, okA := AsTime(a)
		tb, okB := AsTime(b)
		if okA && okB {
			return ta.Compare(tb)
		}
	}

	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		da, _ := AsDecimal(a)
		db, _ := AsDecimal(b)
		return da.Cmp(db)
	case rankString:
		sa, _ := AsString(a)
		sb, _ := AsString(b)
		return strings.Compare(sa, sb)
	case rankBool:
		ba, _ := AsBool(a)
		bb, _ := AsBool(b)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Equal reports whether two values compare equal under Compare.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}
