package reconcile

import (
	"math"

	"github.com/google/uuid"

	"github.com/stwalsh4118/plotsync/internal/models"
)

// bundleNamespace seeds the name-based UUIDs derived from free-text bundle ids.
var bundleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("plotsync:bundle"))

// StableBundleID maps a bundle id onto a UUID. UUID input passes through in
// canonical form; any other text always maps to the same name-based UUID.
func StableBundleID(id string) string {
	if id == "" {
		return ""
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(bundleNamespace, []byte(id)).String()
}

// ToListing converts a record into the listing it should persist as.
func ToListing(rec *models.PlotRecord) models.Listing {
	l := models.Listing{
		CadastralNumber: rec.CadastralNumber,
		Title:           rec.Title,
		Description:     rec.Description,
		District:        rec.District,
		Settlement:      rec.Settlement,
		LandStatus:      rec.LandStatus,
		OwnershipType:   rec.OwnershipType,
		AreaSotok:       rec.AreaSotok,
		Price:           rec.Price,
		Geometry:        rec.Geometry,
		IsReserved:      rec.IsReserved,
		HasCoordinates:  rec.HasLocation(),
		IsBundlePrimary: rec.InBundle() && rec.IsBundlePrimary,
		HasGas:          rec.HasGas,
		HasElectricity:  rec.HasElectricity,
		HasWater:        rec.HasWater,
		HasInstallment:  rec.HasInstallment,
		IsActive:        true,
	}
	if l.OwnershipType == "" {
		l.OwnershipType = models.OwnershipFull
	}
	if rec.HasCenter() {
		l.CenterLat = models.FloatPtr(*rec.CenterLat)
		l.CenterLon = models.FloatPtr(*rec.CenterLon)
	}
	if rec.LeaseFrom != nil {
		l.LeaseFrom = models.StringPtr(*rec.LeaseFrom)
	}
	if rec.LeaseTo != nil {
		l.LeaseTo = models.StringPtr(*rec.LeaseTo)
	}
	if rec.InBundle() {
		l.BundleID = models.StringPtr(StableBundleID(rec.BundleID))
		if rec.BundleTitle != "" {
			l.BundleTitle = models.StringPtr(rec.BundleTitle)
		}
	}
	return l
}

// carryOver keeps location data the catalog already has when the import
// carries none, so a re-import without coordinates does not erase them.
func carryOver(next models.Listing, current *models.Listing) models.Listing {
	if next.CenterLat == nil && current.CenterLat != nil && current.CenterLon != nil {
		next.CenterLat = models.FloatPtr(*current.CenterLat)
		next.CenterLon = models.FloatPtr(*current.CenterLon)
	}
	if next.Geometry.IsEmpty() && !current.Geometry.IsEmpty() {
		next.Geometry = current.Geometry
	}
	next.HasCoordinates = next.HasCoordinates || current.HasCoordinates
	return next
}

// ChangedFields lists the persisted columns that differ between the two
// listings, in a fixed order.
func ChangedFields(current, next *models.Listing) []string {
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("title", current.Title != next.Title)
	add("description", current.Description != next.Description)
	add("price", current.Price != next.Price)
	add("area_sotok", !floatEqual(current.AreaSotok, next.AreaSotok))
	add("district", current.District != next.District)
	add("settlement", current.Settlement != next.Settlement)
	add("land_status", current.LandStatus != next.LandStatus)
	add("ownership_type", current.OwnershipType != next.OwnershipType)
	add("lease_from", !stringPtrEqual(current.LeaseFrom, next.LeaseFrom))
	add("lease_to", !stringPtrEqual(current.LeaseTo, next.LeaseTo))
	add("is_reserved", current.IsReserved != next.IsReserved)
	add("center", !floatPtrEqual(current.CenterLat, next.CenterLat) || !floatPtrEqual(current.CenterLon, next.CenterLon))
	add("geometry", !current.Geometry.Equal(next.Geometry))
	add("has_coordinates", current.HasCoordinates != next.HasCoordinates)
	add("bundle_id", !stringPtrEqual(current.BundleID, next.BundleID))
	add("bundle_title", !stringPtrEqual(current.BundleTitle, next.BundleTitle))
	add("is_bundle_primary", current.IsBundlePrimary != next.IsBundlePrimary)
	add("has_gas", current.HasGas != next.HasGas)
	add("has_electricity", current.HasElectricity != next.HasElectricity)
	add("has_water", current.HasWater != next.HasWater)
	add("has_installment", current.HasInstallment != next.HasInstallment)
	add("is_active", current.IsActive != next.IsActive)

	return changed
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return floatEqual(*a, *b)
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
