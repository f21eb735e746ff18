package models

import (
	"database/sql/driver"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGeometryImplementsInterfaces verifies Geometry works as a pgx column value
func TestGeometryImplementsInterfaces(t *testing.T) {
	var _ driver.Valuer = Geometry{}
	var _ json.Marshaler = Geometry{}
	var _ json.Unmarshaler = (*Geometry)(nil)

	var g Geometry
	var scanner interface{} = &g
	if _, ok := scanner.(interface{ Scan(interface{}) error }); !ok {
		t.Error("Geometry does not implement sql.Scanner interface")
	}
}

func TestNewGeometry(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantEmpty bool
		wantError bool
	}{
		{name: "polygon payload", input: `{"type":"Polygon","coordinates":[[[1,2],[3,4],[1,2]]]}`},
		{name: "empty input", input: "", wantEmpty: true},
		{name: "whitespace only", input: "   ", wantEmpty: true},
		{name: "json null", input: "null", wantEmpty: true},
		{name: "invalid json", input: `{"type":`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGeometry([]byte(tt.input))
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmpty, g.IsEmpty())
		})
	}
}

func TestGeometry_ValueAndScan(t *testing.T) {
	g, err := NewGeometry([]byte(`{"type":"Point","coordinates":[20.5,54.7]}`))
	require.NoError(t, err)

	val, err := g.Value()
	require.NoError(t, err)

	var scanned Geometry
	require.NoError(t, scanned.Scan([]byte(val.(string))))
	assert.True(t, g.Equal(scanned))

	var fromString Geometry
	require.NoError(t, fromString.Scan(val.(string)))
	assert.True(t, g.Equal(fromString))

	var empty Geometry
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsEmpty())

	assert.Error(t, scanned.Scan(42))
}

func TestGeometry_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Geometry Geometry `json:"geometry"`
	}

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"geometry":{"type":"Polygon","coordinates":[]}}`), &w))
	assert.False(t, w.Geometry.IsEmpty())

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"geometry":{"type":"Polygon","coordinates":[]}}`, string(data))
}

func TestGeometry_UnmarshalStringWrapped(t *testing.T) {
	var g Geometry
	require.NoError(t, json.Unmarshal([]byte(`"{\"type\":\"Point\",\"coordinates\":[1,2]}"`), &g))
	assert.JSONEq(t, `{"type":"Point","coordinates":[1,2]}`, string(g.Bytes()))

	var empty Geometry
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsEmpty())

	var null Geometry
	require.NoError(t, json.Unmarshal([]byte(`null`), &null))
	assert.True(t, null.IsEmpty())
}

func TestGeometry_EqualIgnoresWhitespace(t *testing.T) {
	a, err := NewGeometry([]byte(`{"type": "Point", "coordinates": [1, 2]}`))
	require.NoError(t, err)
	b, err := NewGeometry([]byte(`{"type":"Point","coordinates":[1,2]}`))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Geometry{}))
	assert.True(t, Geometry{}.Equal(Geometry{}))
}
