package models

import (
	"fmt"
	"strings"
)

// Mode selects the analysis depth. Only the endpoint differs between modes.
type Mode string

const (
	ModeFast   Mode = "fast"
	ModeNormal Mode = "normal"
	ModeDeep   Mode = "deep"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeFast, ModeNormal, ModeDeep}

var modeLabels = map[Mode]string{
	ModeFast:   "Analisa Cepat",
	ModeNormal: "Analisa Normal",
	ModeDeep:   "Analisa Mendalam",
}

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modeLabels[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Route is the Analysis Service endpoint for the mode.
func (m Mode) Route() string {
	return "/api/v1/" + string(m) + "_analyze"
}

// Label is the human-readable name stored as jenis_analisa.
func (m Mode) Label() string {
	if l, ok := modeLabels[m]; ok {
		return l
	}
	return modeLabels[ModeNormal]
}

func (m Mode) Valid() bool {
	_, ok := modeLabels[m]
	return ok
}
