package models

import (
	"sort"
	"strings"
)

// ResolutionStatus is the per-cadastral state of the address resolver.
type ResolutionStatus string

// Resolution statuses
const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolving ResolutionStatus = "resolving"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionError     ResolutionStatus = "error"
	ResolutionSkipped   ResolutionStatus = "skipped"
)

// CoordinateSource records where a record's coordinates came from.
type CoordinateSource string

// Coordinate sources
const (
	CoordinatesFromFile     CoordinateSource = "file"
	CoordinatesFromExternal CoordinateSource = "external"
	CoordinatesNone         CoordinateSource = "none"
)

// ResolutionState is the progress of one cadastral number through the resolver.
// HasContour is nil while unknown.
type ResolutionState struct {
	HasContour       *bool            `json:"has_contour,omitempty"`
	CadastralNumber  string           `json:"cadastral_number"`
	Status           ResolutionStatus `json:"status"`
	CoordinateSource CoordinateSource `json:"coordinate_source"`
	Message          string           `json:"message,omitempty"`
	Percent          int              `json:"percent"`
}

// DetailStatus is the outcome of reconciling one record or persisted listing.
type DetailStatus string

// Reconciliation outcomes
const (
	DetailAdded    DetailStatus = "added"
	DetailUpdated  DetailStatus = "updated"
	DetailArchived DetailStatus = "archived"
	DetailSkipped  DetailStatus = "skipped"
	DetailError    DetailStatus = "error"
)

// ReconciliationDetail describes what happened to one cadastral number.
// LineNumber is 1-based for incoming records and 0 for archived listings.
type ReconciliationDetail struct {
	CadastralNumber string       `json:"cadastral_number"`
	Status          DetailStatus `json:"status"`
	Message         string       `json:"message"`
	LineNumber      int          `json:"line_number"`
}

// MultiSettlementScope is the wire sentinel for a batch spanning several settlements.
const MultiSettlementScope = "__MULTI__"

// ImportScope bounds which persisted listings a reconciliation may touch.
type ImportScope struct {
	Settlements []string
	Multi       bool
}

// SingleScope returns a scope confined to one settlement.
func SingleScope(settlement string) ImportScope {
	return ImportScope{Settlements: []string{strings.TrimSpace(settlement)}}
}

// MultiScope returns the multi-settlement scope over the given names.
// Archival is disabled for such scopes.
func MultiScope(settlements []string) ImportScope {
	return ImportScope{Settlements: uniqueSorted(settlements), Multi: true}
}

// ParseScope turns the wire value into a scope. The multi sentinel takes its
// settlement list from the records being imported.
func ParseScope(raw string, records []PlotRecord) ImportScope {
	raw = strings.TrimSpace(raw)
	if raw == MultiSettlementScope {
		return MultiScope(SettlementsOf(records))
	}
	if raw == "" {
		return ImportScope{}
	}
	return SingleScope(raw)
}

// DeriveScope picks a scope from the records themselves: one settlement gives
// a single scope, several give the multi scope.
func DeriveScope(records []PlotRecord) ImportScope {
	names := SettlementsOf(records)
	switch len(names) {
	case 0:
		return ImportScope{}
	case 1:
		return SingleScope(names[0])
	default:
		return MultiScope(names)
	}
}

// IsEmpty reports whether the scope names no settlement.
func (s ImportScope) IsEmpty() bool {
	return len(s.Settlements) == 0
}

// AllowsArchival reports whether unseen listings may be archived.
func (s ImportScope) AllowsArchival() bool {
	return !s.Multi && len(s.Settlements) == 1
}

// Contains reports whether the settlement is within the scope.
func (s ImportScope) Contains(settlement string) bool {
	settlement = strings.TrimSpace(settlement)
	for _, name := range s.Settlements {
		if name == settlement {
			return true
		}
	}
	return false
}

// Label is the human-readable scope name used in logs and audit records.
func (s ImportScope) Label() string {
	if s.Multi {
		return "MULTI"
	}
	if len(s.Settlements) == 0 {
		return ""
	}
	return s.Settlements[0]
}

// SettlementsOf returns the distinct non-empty settlements of records, sorted.
func SettlementsOf(records []PlotRecord) []string {
	names := make([]string, 0, len(records))
	for i := range records {
		names = append(names, records[i].Settlement)
	}
	return uniqueSorted(names)
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ImportSummary is the terminal outcome of a reconciliation run. Success is
// false only when the run could not complete; per-record failures are listed
// in Errors and counted in ErrorCount.
type ImportSummary struct {
	Errors     []string `json:"errors"`
	Message    string   `json:"message"`
	Scope      string   `json:"scope"`
	Added      int      `json:"added"`
	Updated    int      `json:"updated"`
	Archived   int      `json:"archived"`
	Skipped    int      `json:"skipped"`
	ErrorCount int      `json:"error_count"`
	Success    bool     `json:"success"`
}

// CadastralInfo is what the external cadastral lookup knows about a parcel.
// Empty strings and nil pointers mean the service did not say.
type CadastralInfo struct {
	CenterLat  *float64 `json:"center_lat,omitempty"`
	CenterLon  *float64 `json:"center_lon,omitempty"`
	HasContour *bool    `json:"has_contour,omitempty"`
	District   string   `json:"district,omitempty"`
	Settlement string   `json:"settlement,omitempty"`
	LandStatus string   `json:"land_status,omitempty"`
	Address    string   `json:"address,omitempty"`
}

// HasCenter reports whether both center coordinates are known.
func (c *CadastralInfo) HasCenter() bool {
	return c != nil && c.CenterLat != nil && c.CenterLon != nil
}
