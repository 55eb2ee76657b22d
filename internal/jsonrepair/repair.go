// Package jsonrepair recovers a JSON object from language-model output.
//
// Model output is reassembled from streamed tokens, so the usual defects are
// missing punctuation where a token boundary fell: a dropped colon after a
// key, a dropped comma between members, a leading character cut off a key
// name. Every stage here only inserts or removes punctuation (or restores a
// known key name); none of them restructures the document.
package jsonrepair

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const fence = "```"

var (
	// A quoted key in key position followed by whitespace and then the start
	// of a value.
	missingColon = regexp.MustCompile(`([{,]\s*"(?:[^"\\]|\\.)*")\s+(["\d{\[tfn-])`)

	// The end of a value followed by whitespace and then a quoted key. A
	// quote closes a string only after an even run of backslashes.
	missingComma = regexp.MustCompile(`((?:^|[^\\])(?:\\\\)*"|\d|true|false|null|[}\]])\s+"`)

	trailingComma = regexp.MustCompile(`,\s*([}\]])`)

	quoteGapQuote = regexp.MustCompile(`"\s+"`)

	keyTypos = strings.NewReplacer(
		`"ama_entitas"`, `"nama_entitas"`,
		`"eriode_laporan"`, `"periode_laporan"`,
		`"ata_uang"`, `"mata_uang"`,
		`"atuan_angka"`, `"satuan_angka"`,
		`"otal_aset"`, `"total_aset"`,
		`"otal_liabilitas"`, `"total_liabilitas"`,
		`"otal_ekuitas"`, `"total_ekuitas"`,
		`"aba_bersih"`, `"laba_bersih"`,
		`"ata_keuangan_lain"`, `"data_keuangan_lain"`,
		`"keuangan_lain"`, `"data_keuangan_lain"`,
		`"eterangan"`, `"keterangan"`,
		`"ilai"`, `"nilai"`,
	)
)

// Repair extracts and repairs the first JSON object in raw.
//
// It returns ErrNoJSONFound when raw holds no '{', and a *MalformedError when
// the object cannot be parsed even after repair.
func Repair(raw string) (json.RawMessage, error) {
	sliced, err := ExtractObject(StripFences(raw))
	if err != nil {
		return nil, err
	}
	if json.Valid([]byte(sliced)) {
		return json.RawMessage(sliced), nil
	}

	if fixed := heuristic(sliced); json.Valid([]byte(fixed)) {
		slog.Debug("analysis json repaired", "stage", "heuristic")
		return json.RawMessage(fixed), nil
	}

	if forced := bruteForce(sliced); json.Valid([]byte(forced)) {
		slog.Debug("analysis json repaired", "stage", "brute-force")
		return json.RawMessage(forced), nil
	}

	var v any
	return nil, newMalformedError(sliced, json.Unmarshal([]byte(sliced), &v))
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, and the whitespace around it.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, fence) {
		s = strings.TrimPrefix(s, fence)
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, fence)
	return strings.TrimSpace(s)
}

// ExtractObject returns the span from the first '{' to the brace that closes
// it. Braces inside string literals are not counted. When the object never
// closes the span runs to the end of s. Applying it twice gives the same
// result as applying it once.
func ExtractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONFound
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return s[start:], nil
}

func heuristic(s string) string {
	for range 3 {
		next := missingColon.ReplaceAllString(s, "${1}: ${2}")
		next = missingComma.ReplaceAllString(next, `${1}, "`)
		if next == s {
			break
		}
		s = next
	}
	s = keyTypos.Replace(s)
	return trailingComma.ReplaceAllString(s, "$1")
}

func bruteForce(s string) string {
	return quoteGapQuote.ReplaceAllString(s, `": "`)
}
