package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoJSONFound means the text contained no opening brace at all.
	ErrNoJSONFound = errors.New("no json object found")

	// ErrMalformedAnalysisJSON means every repair stage failed.
	ErrMalformedAnalysisJSON = errors.New("malformed analysis json")
)

// MalformedError carries the extracted text that could not be parsed and
// where the parser gave up.
type MalformedError struct {
	Text   string
	Err    error
	Line   int
	Column int
}

func newMalformedError(text string, err error) *MalformedError {
	e := &MalformedError{Text: text, Err: err}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		e.Line, e.Column = position(text, syntaxErr.Offset)
	}
	return e
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v at line %d, column %d: %v", ErrMalformedAnalysisJSON, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrMalformedAnalysisJSON, e.Err)
}

func (e *MalformedError) Unwrap() []error {
	return []error{ErrMalformedAnalysisJSON, e.Err}
}

func position(text string, offset int64) (line, col int) {
	line, col = 1, 1
	for i := 0; i < len(text) && int64(i) < offset-1; i++ {
		if text[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
