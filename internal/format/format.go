// Package format renders identifiers and monetary values for display.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NormalizeID turns whatever shape an identifier arrives in into its
// canonical string form. It never fails: unknown shapes are stringified.
func NormalizeID(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	case *primitive.ObjectID:
		if v == nil {
			return ""
		}
		return v.Hex()
	case map[string]any:
		if oid, ok := v["$oid"].(string); ok {
			return oid
		}
	case map[string]string:
		if oid, ok := v["$oid"]; ok {
			return oid
		}
	case json.RawMessage:
		return normalizeRaw(v)
	case []byte:
		return normalizeRaw(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(raw)
}

func normalizeRaw(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(b)
	}
	return NormalizeID(v)
}

// CurrencyFormatter formats amounts in a locale with a fixed currency symbol.
type CurrencyFormatter struct {
	Tag    language.Tag
	Symbol string
	Digits int
}

// IDR is the formatter used throughout the dashboard: Indonesian grouping,
// rupiah symbol, no fraction digits.
var IDR = CurrencyFormatter{Tag: language.Indonesian, Symbol: "Rp", Digits: 0}

// Format renders value, or "-" when the value is absent or not finite.
func (f CurrencyFormatter) Format(value *float64) string {
	return f.render(value, f.Symbol+"\u00a0")
}

func (f CurrencyFormatter) render(value *float64, prefix string) string {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return "-"
	}
	sign := ""
	v := *value
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + prefix + f.digits(v)
}

func (f CurrencyFormatter) digits(v float64) string {
	p := message.NewPrinter(f.Tag)
	if f.Digits <= 0 {
		r := math.Round(v)
		if r < math.MaxInt64 {
			return p.Sprintf("%d", int64(r))
		}
		return p.Sprintf("%.0f", r)
	}
	return p.Sprintf(fmt.Sprintf("%%.%df", f.Digits), v)
}

// Currency formats value as Indonesian rupiah.
func Currency(value *float64) string {
	return IDR.Format(value)
}

var grouped = CurrencyFormatter{Tag: language.Indonesian}

// Number formats value with Indonesian digit grouping and no symbol.
func Number(value *float64) string {
	return grouped.render(value, "")
}
