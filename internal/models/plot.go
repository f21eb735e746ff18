package models

// Ownership types
const (
	OwnershipFull  = "ownership"
	OwnershipLease = "lease"
)

// DefaultLandStatus is applied when a source row carries no land status.
const DefaultLandStatus = "ИЖС"

// PlotRecord is one parcel candidate produced by the normalizer.
// Optional values use pointers to distinguish "absent" from zero values.
type PlotRecord struct {
	LeaseFrom       *string  `json:"lease_from,omitempty"`
	LeaseTo         *string  `json:"lease_to,omitempty"`
	CenterLat       *float64 `json:"center_lat,omitempty"`
	CenterLon       *float64 `json:"center_lon,omitempty"`
	Geometry        Geometry `json:"geometry"`
	CadastralNumber string   `json:"cadastral_number"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	District        string   `json:"district"`
	Settlement      string   `json:"settlement"`
	LandStatus      string   `json:"land_status"`
	OwnershipType   string   `json:"ownership_type"`
	BundleID        string   `json:"bundle_id,omitempty"`
	BundleTitle     string   `json:"bundle_title,omitempty"`
	AreaSotok       float64  `json:"area_sotok"`
	Price           int64    `json:"price"`
	// SourceLine is the 1-based source row the record was expanded from.
	SourceLine      int  `json:"source_line,omitempty"`
	IsReserved      bool `json:"is_reserved"`
	HasCoordinates  bool `json:"has_coordinates"`
	IsBundlePrimary bool `json:"is_bundle_primary"`
	HasGas          bool `json:"has_gas"`
	HasElectricity  bool `json:"has_electricity"`
	HasWater        bool `json:"has_water"`
	HasInstallment  bool `json:"has_installment"`
}

// HasCenter reports whether both center coordinates are present.
func (p *PlotRecord) HasCenter() bool {
	return p.CenterLat != nil && p.CenterLon != nil
}

// HasLocation reports whether the record carries any usable location:
// an explicit flag, a center point or a contour.
func (p *PlotRecord) HasLocation() bool {
	return p.HasCoordinates || p.HasCenter() || !p.Geometry.IsEmpty()
}

// IsLease reports whether the parcel is offered on lease.
func (p *PlotRecord) IsLease() bool {
	return p.OwnershipType == OwnershipLease
}

// InBundle reports whether the record declares bundle membership.
func (p *PlotRecord) InBundle() bool {
	return p.BundleID != ""
}

// Clone returns a copy that shares no pointer fields with the receiver.
func (p PlotRecord) Clone() PlotRecord {
	out := p
	out.LeaseFrom = cloneString(p.LeaseFrom)
	out.LeaseTo = cloneString(p.LeaseTo)
	out.CenterLat = cloneFloat(p.CenterLat)
	out.CenterLon = cloneFloat(p.CenterLon)
	return out
}

// Bundle is the derived view over records sharing a bundle id.
type Bundle struct {
	ID         string       `json:"bundle_id"`
	Title      string       `json:"bundle_title"`
	Members    []PlotRecord `json:"members"`
	TotalArea  float64      `json:"total_area"`
	TotalPrice int64        `json:"total_price"`
}

// Primary returns the primary member, or nil if none is flagged.
func (b *Bundle) Primary() *PlotRecord {
	for i := range b.Members {
		if b.Members[i].IsBundlePrimary {
			return &b.Members[i]
		}
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 {
	return &f
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
