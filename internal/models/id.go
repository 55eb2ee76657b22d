package models

import (
	"encoding/json"

	"github.com/b4its/next-kepin/internal/format"
)

// ID is an identifier in canonical string form. It decodes from a plain
// string, an {"$oid": "..."} wrapper or a number, and always encodes as a
// string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	*id = ID(format.NormalizeID(json.RawMessage(b)))
	return nil
}

func (id ID) String() string { return string(id) }
