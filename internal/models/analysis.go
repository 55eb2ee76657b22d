package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LineItem is one row of the "other financial data" breakdown.
type LineItem struct {
	Description string   `json:"keterangan" bson:"keterangan"`
	Value       *float64 `json:"nilai"      bson:"nilai"`
}

// AnalysisResult is the structured extraction of one uploaded document.
// Every member is optional; DecodeAnalysis rejects records carrying nothing.
type AnalysisResult struct {
	UploadID         ID         `json:"id_userupload"      bson:"id_userupload"`
	UserID           string     `json:"user_id"            bson:"user_id"`
	EntityName       string     `json:"nama_entitas"       bson:"nama_entitas"`
	Period           string     `json:"periode_laporan"    bson:"periode_laporan"`
	Currency         string     `json:"mata_uang"          bson:"mata_uang"`
	Unit             string     `json:"satuan_angka"       bson:"satuan_angka"`
	TotalAssets      *float64   `json:"total_aset"         bson:"total_aset"`
	TotalLiabilities *float64   `json:"total_liabilitas"   bson:"total_liabilitas"`
	TotalEquity      *float64   `json:"total_ekuitas"      bson:"total_ekuitas"`
	NetIncome        *float64   `json:"laba_bersih"        bson:"laba_bersih"`
	LineItems        []LineItem `json:"data_keuangan_lain" bson:"data_keuangan_lain"`
	AnalysisType     string     `json:"jenis_analisa"      bson:"jenis_analisa"`
	CreatedAt        time.Time  `json:"created_at"         bson:"created_at"`
}

// Empty reports whether the result carries no entity, totals or line items.
func (r *AnalysisResult) Empty() bool {
	return strings.TrimSpace(r.EntityName) == "" &&
		r.TotalAssets == nil && r.TotalLiabilities == nil &&
		r.TotalEquity == nil && r.NetIncome == nil &&
		len(r.LineItems) == 0
}

// wireAnalysis is the loosely-typed shape a model actually emits.
type wireAnalysis struct {
	UploadID         ID              `json:"id_userupload"`
	UserID           json.RawMessage `json:"user_id"`
	EntityName       json.RawMessage `json:"nama_entitas"`
	Period           json.RawMessage `json:"periode_laporan"`
	Currency         json.RawMessage `json:"mata_uang"`
	Unit             json.RawMessage `json:"satuan_angka"`
	TotalAssets      json.RawMessage `json:"total_aset"`
	TotalLiabilities json.RawMessage `json:"total_liabilitas"`
	TotalEquity      json.RawMessage `json:"total_ekuitas"`
	NetIncome        json.RawMessage `json:"laba_bersih"`
	LineItems        json.RawMessage `json:"data_keuangan_lain"`
	AnalysisType     json.RawMessage `json:"jenis_analisa"`
	CreatedAt        json.RawMessage `json:"created_at"`
}

type wireLineItem struct {
	Description json.RawMessage `json:"keterangan"`
	Value       json.RawMessage `json:"nilai"`
}

// DecodeAnalysis validates a repaired JSON object and converts it into an
// AnalysisResult. Numeric members may be JSON numbers, numeric strings in
// Indonesian or English notation, or null.
func DecodeAnalysis(raw []byte) (*AnalysisResult, error) {
	var w wireAnalysis
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}

	r := &AnalysisResult{
		UploadID:     w.UploadID,
		UserID:       text(w.UserID),
		EntityName:   text(w.EntityName),
		Period:       text(w.Period),
		Currency:     text(w.Currency),
		Unit:         text(w.Unit),
		AnalysisType: text(w.AnalysisType),
	}

	var err error
	amounts := []struct {
		field string
		raw   json.RawMessage
		dst   **float64
	}{
		{"total_aset", w.TotalAssets, &r.TotalAssets},
		{"total_liabilitas", w.TotalLiabilities, &r.TotalLiabilities},
		{"total_ekuitas", w.TotalEquity, &r.TotalEquity},
		{"laba_bersih", w.NetIncome, &r.NetIncome},
	}
	for _, a := range amounts {
		if *a.dst, err = amount(a.raw); err != nil {
			return nil, &FieldError{Field: a.field, Err: err}
		}
	}

	if r.LineItems, err = lineItems(w.LineItems); err != nil {
		return nil, err
	}

	if ts := text(w.CreatedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.CreatedAt = t
		}
	}

	if r.Empty() {
		return nil, ErrEmptyAnalysis
	}
	return r, nil
}

func lineItems(raw json.RawMessage) ([]LineItem, error) {
	if isNull(raw) {
		return nil, nil
	}
	var rows []wireLineItem
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &FieldError{Field: "data_keuangan_lain", Err: err}
	}
	items := make([]LineItem, 0, len(rows))
	for i, row := range rows {
		v, err := amount(row.Value)
		if err != nil {
			return nil, &FieldError{Field: fmt.Sprintf("data_keuangan_lain[%d].nilai", i), Err: err}
		}
		desc := text(row.Description)
		if desc == "" && v == nil {
			continue
		}
		items = append(items, LineItem{Description: desc, Value: v})
	}
	return items, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// text renders a scalar member as a string. Numbers keep their literal form.
func text(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

var errNotANumber = errors.New("not a number")

func amount(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errNotANumber
	}
	return ParseAmount(s)
}

// ParseAmount parses a human-written amount such as "Rp 1.234.567",
// "1,234,567.50" or "(2.500)". Blank strings and "-" yield nil.
func ParseAmount(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "Rp"), ".")
	s = strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "\u00a0", "")
	if s == "" || s == "-" {
		return nil, nil
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}

	s = normalizeSeparators(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errNotANumber
	}
	if neg {
		f = -f
	}
	return &f, nil
}

// normalizeSeparators rewrites grouping and decimal marks into Go syntax.
// When both marks appear the last one is the decimal mark. A single kind of
// mark is a decimal mark only if it occurs once and is not followed by
// exactly three digits.
func normalizeSeparators(s string) string {
	dot, comma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	case dot >= 0:
		if strings.Count(s, ".") == 1 && len(s)-dot-1 != 3 {
			return s
		}
		return strings.ReplaceAll(s, ".", "")
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 != 3 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	}
	return s
}
