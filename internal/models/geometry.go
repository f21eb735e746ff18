package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Geometry is a parcel contour carried through the pipeline untouched.
// It holds whatever GeoJSON-ish payload the source supplied; no topology
// or type checks are made beyond requiring well-formed JSON.
type Geometry struct {
	raw json.RawMessage
}

// NewGeometry wraps a raw JSON payload. Empty input and JSON null yield an empty Geometry.
func NewGeometry(data []byte) (Geometry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Geometry{}, nil
	}
	if !json.Valid(trimmed) {
		return Geometry{}, fmt.Errorf("geometry payload is not valid JSON")
	}
	cp := make([]byte, len(trimmed))
	copy(cp, trimmed)
	return Geometry{raw: cp}, nil
}

// IsEmpty reports whether no payload is present.
func (g Geometry) IsEmpty() bool {
	return len(g.raw) == 0
}

// Bytes returns the raw payload.
func (g Geometry) Bytes() []byte {
	return g.raw
}

// Equal compares two payloads after compacting whitespace.
func (g Geometry) Equal(other Geometry) bool {
	if g.IsEmpty() || other.IsEmpty() {
		return g.IsEmpty() == other.IsEmpty()
	}
	var a, b bytes.Buffer
	if err := json.Compact(&a, g.raw); err != nil {
		return bytes.Equal(g.raw, other.raw)
	}
	if err := json.Compact(&b, other.raw); err != nil {
		return bytes.Equal(g.raw, other.raw)
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// Scan implements sql.Scanner. The column is jsonb, which pgx hands back as []byte or string.
func (g *Geometry) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		g.raw = nil
		return nil
	case []byte:
		parsed, err := NewGeometry(v)
		if err != nil {
			return fmt.Errorf("failed to scan geometry: %w", err)
		}
		*g = parsed
		return nil
	case string:
		parsed, err := NewGeometry([]byte(v))
		if err != nil {
			return fmt.Errorf("failed to scan geometry: %w", err)
		}
		*g = parsed
		return nil
	default:
		return fmt.Errorf("failed to scan geometry: expected []byte or string, got %T", value)
	}
}

// Value implements driver.Valuer. Empty geometry is stored as NULL.
func (g Geometry) Value() (driver.Value, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	return string(g.raw), nil
}

// MarshalJSON emits the payload verbatim, or null.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.IsEmpty() {
		return []byte("null"), nil
	}
	return g.raw, nil
}

// UnmarshalJSON accepts any JSON value. A JSON string holding JSON (as some
// spreadsheets export the contour column) is unwrapped once.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("failed to unmarshal geometry: %w", err)
		}
		if s == "" {
			g.raw = nil
			return nil
		}
		if json.Valid([]byte(s)) {
			trimmed = []byte(s)
		}
	}
	parsed, err := NewGeometry(trimmed)
	if err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}
	*g = parsed
	return nil
}
