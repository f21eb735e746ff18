package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/plotsync/internal/database"
	"github.com/stwalsh4118/plotsync/internal/models"
)

// ErrListingNotFound is returned when an archive targets a missing listing.
var ErrListingNotFound = errors.New("listing not found")

// ListingRepository is the pgx-backed catalog of land plot listings.
type ListingRepository struct {
	db *database.Database
}

// NewListingRepository creates a ListingRepository.
func NewListingRepository(db *database.Database) *ListingRepository {
	return &ListingRepository{db: db}
}

const listingColumns = `
	id::text,
	cadastral_number,
	title,
	description,
	district,
	settlement,
	land_status,
	ownership_type,
	area_sotok,
	price,
	lease_from,
	lease_to,
	center_lat,
	center_lon,
	geometry,
	has_coordinates,
	bundle_id::text,
	bundle_title,
	is_bundle_primary,
	is_reserved,
	has_gas,
	has_electricity,
	has_water,
	has_installment,
	is_active,
	created_at,
	updated_at`

// FindByScope returns active and archived listings whose settlement is in scope.
func (r *ListingRepository) FindByScope(ctx context.Context, scope models.ImportScope) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM land_plots
		WHERE settlement = ANY($1)
		ORDER BY cadastral_number`

	rows, err := r.db.Pool.Query(ctx, query, scope.Settlements)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings for scope %s: %w", scope.Label(), err)
	}
	defer rows.Close()

	listings := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listing rows: %w", err)
	}
	return listings, nil
}

// FindByCadastral returns the listing with the given cadastral number, or nil
// when there is none.
func (r *ListingRepository) FindByCadastral(ctx context.Context, cadastral string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM land_plots WHERE cadastral_number = $1`

	l, err := scanListing(r.db.Pool.QueryRow(ctx, query, cadastral))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// UpsertByCadastral inserts the listing or overwrites the row with the same
// cadastral number. Created is true only for a fresh insert.
func (r *ListingRepository) UpsertByCadastral(ctx context.Context, l models.Listing) (models.UpsertResult, error) {
	query := `
		INSERT INTO land_plots (
			cadastral_number, title, description, district, settlement,
			land_status, ownership_type, area_sotok, price, lease_from,
			lease_to, center_lat, center_lon, geometry, has_coordinates,
			bundle_id, bundle_title, is_bundle_primary, is_reserved, has_gas,
			has_electricity, has_water, has_installment, is_active
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16::uuid, $17, $18, $19, $20,
			$21, $22, $23, $24
		)
		ON CONFLICT (cadastral_number) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			district = EXCLUDED.district,
			settlement = EXCLUDED.settlement,
			land_status = EXCLUDED.land_status,
			ownership_type = EXCLUDED.ownership_type,
			area_sotok = EXCLUDED.area_sotok,
			price = EXCLUDED.price,
			lease_from = EXCLUDED.lease_from,
			lease_to = EXCLUDED.lease_to,
			center_lat = EXCLUDED.center_lat,
			center_lon = EXCLUDED.center_lon,
			geometry = EXCLUDED.geometry,
			has_coordinates = EXCLUDED.has_coordinates,
			bundle_id = EXCLUDED.bundle_id,
			bundle_title = EXCLUDED.bundle_title,
			is_bundle_primary = EXCLUDED.is_bundle_primary,
			is_reserved = EXCLUDED.is_reserved,
			has_gas = EXCLUDED.has_gas,
			has_electricity = EXCLUDED.has_electricity,
			has_water = EXCLUDED.has_water,
			has_installment = EXCLUDED.has_installment,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id::text, (xmax = 0) AS created`

	var res models.UpsertResult
	err := r.db.Pool.QueryRow(ctx, query,
		l.CadastralNumber, l.Title, l.Description, l.District, l.Settlement,
		l.LandStatus, l.OwnershipType, l.AreaSotok, l.Price, l.LeaseFrom,
		l.LeaseTo, l.CenterLat, l.CenterLon, l.Geometry, l.HasCoordinates,
		l.BundleID, l.BundleTitle, l.IsBundlePrimary, l.IsReserved, l.HasGas,
		l.HasElectricity, l.HasWater, l.HasInstallment, l.IsActive,
	).Scan(&res.ID, &res.Created)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("failed to upsert listing %s: %w", l.CadastralNumber, err)
	}
	return res, nil
}

// Archive marks a listing inactive. The row is kept.
func (r *ListingRepository) Archive(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE land_plots SET is_active = FALSE, updated_at = NOW() WHERE id = $1::uuid`, id)
	if err != nil {
		return fmt.Errorf("failed to archive listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrListingNotFound, id)
	}
	return nil
}

func scanListing(row pgx.Row) (models.Listing, error) {
	var l models.Listing
	var geomJSON []byte

	err := row.Scan(
		&l.ID,
		&l.CadastralNumber,
		&l.Title,
		&l.Description,
		&l.District,
		&l.Settlement,
		&l.LandStatus,
		&l.OwnershipType,
		&l.AreaSotok,
		&l.Price,
		&l.LeaseFrom,
		&l.LeaseTo,
		&l.CenterLat,
		&l.CenterLon,
		&geomJSON,
		&l.HasCoordinates,
		&l.BundleID,
		&l.BundleTitle,
		&l.IsBundlePrimary,
		&l.IsReserved,
		&l.HasGas,
		&l.HasElectricity,
		&l.HasWater,
		&l.HasInstallment,
		&l.IsActive,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan listing row: %w", err)
	}

	if err := l.Geometry.Scan(geomJSON); err != nil {
		return l, fmt.Errorf("failed to parse geometry for listing %s: %w", l.CadastralNumber, err)
	}
	return l, nil
}
