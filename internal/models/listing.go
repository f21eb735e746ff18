package models

import (
	"time"
)

// Listing is a persisted catalog entry keyed by cadastral number.
// Listings are archived by clearing IsActive and are never deleted by imports.
type Listing struct {
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LeaseFrom       *string   `json:"lease_from,omitempty"`
	LeaseTo         *string   `json:"lease_to,omitempty"`
	CenterLat       *float64  `json:"center_lat,omitempty"`
	CenterLon       *float64  `json:"center_lon,omitempty"`
	BundleID        *string   `json:"bundle_id,omitempty"`
	BundleTitle     *string   `json:"bundle_title,omitempty"`
	Geometry        Geometry  `json:"geometry"`
	ID              string    `json:"id"`
	CadastralNumber string    `json:"cadastral_number"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	District        string    `json:"district"`
	Settlement      string    `json:"settlement"`
	LandStatus      string    `json:"land_status"`
	OwnershipType   string    `json:"ownership_type"`
	AreaSotok       float64   `json:"area_sotok"`
	Price           int64     `json:"price"`
	IsReserved      bool      `json:"is_reserved"`
	HasCoordinates  bool      `json:"has_coordinates"`
	IsBundlePrimary bool      `json:"is_bundle_primary"`
	HasGas          bool      `json:"has_gas"`
	HasElectricity  bool      `json:"has_electricity"`
	HasWater        bool      `json:"has_water"`
	HasInstallment  bool      `json:"has_installment"`
	IsActive        bool      `json:"is_active"`
}

// UpsertResult reports what a catalog upsert did.
type UpsertResult struct {
	ID      string
	Created bool
}

// ImportLog is the audit record written after each commit.
type ImportLog struct {
	CreatedAt     time.Time         `json:"created_at"`
	ID            string            `json:"id"`
	Scope         string            `json:"scope"`
	FileName      string            `json:"file_name"`
	FileType      string            `json:"file_type"`
	Details       []ImportLogDetail `json:"details"`
	AddedCount    int               `json:"added_count"`
	UpdatedCount  int               `json:"updated_count"`
	ArchivedCount int               `json:"archived_count"`
	ErrorCount    int               `json:"error_count"`
}

// ImportLogDetail is one operation recorded in an ImportLog.
type ImportLogDetail struct {
	CadastralNumber string `json:"cadastral_number"`
	Operation       string `json:"operation"`
	Settlement      string `json:"settlement"`
	Message         string `json:"message"`
}
