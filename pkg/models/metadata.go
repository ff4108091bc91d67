package models

import (
	"database/sql"
	"encoding/json"
)

// Metadata is an opaque bag of serialized JSON supplied by callers
// (author, origin, purpose, tags...). It is stored and returned verbatim.
type Metadata string

// MarshalJSON emits the stored text as raw JSON. Text that is not valid JSON
// is emitted as a JSON string so responses stay well formed.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == "" {
		return []byte("null"), nil
	}

	if !json.Valid([]byte(m)) {
		return json.Marshal(string(m))
	}

	return []byte(m), nil
}

// UnmarshalJSON keeps the raw payload without interpreting it.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = ""

		return nil
	}

	*m = Metadata(string(data))

	return nil
}

// NullString converts the bag into a nullable column value.
func (m Metadata) NullString() sql.NullString {
	return sql.NullString{String: string(m), Valid: m != ""}
}

// MetadataFromNull converts a nullable column value back into a bag.
func MetadataFromNull(s sql.NullString) Metadata {
	if !s.Valid {
		return ""
	}

	return Metadata(s.String)
}
