package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stwalsh4118/plotsync/internal/models"
)

// Row is one loosely-typed source row keyed by column name.
type Row map[string]interface{}

// squareMetersThreshold is the largest area still read as sotok.
const squareMetersThreshold = 100.0

// untitled is the placeholder title some sources write instead of leaving the cell empty.
const untitled = "Без названия"

// Options configures a Normalizer. Non-empty District and Description override
// row values; Settlement only fills rows that carry none.
type Options struct {
	Aliases             Aliases
	District            string
	Settlement          string
	Description         string
	AllowEmptyCadastral bool
}

// Normalizer maps source rows onto PlotRecords. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	aliases Aliases
	opts    Options
}

// New creates a Normalizer. A nil alias table means DefaultAliases.
func New(opts Options) *Normalizer {
	aliases := opts.Aliases
	if aliases == nil {
		aliases = DefaultAliases()
	}
	opts.District = strings.TrimSpace(opts.District)
	opts.Settlement = strings.TrimSpace(opts.Settlement)
	opts.Description = strings.TrimSpace(opts.Description)
	return &Normalizer{aliases: aliases, opts: opts}
}

// NormalizeAll normalizes rows in order. Line numbers are 1-based.
func (n *Normalizer) NormalizeAll(rows []Row) []models.PlotRecord {
	out := make([]models.PlotRecord, 0, len(rows))
	for i, row := range rows {
		out = append(out, n.Normalize(row, i+1)...)
	}
	return out
}

// Normalize expands one row into zero or more records. A row naming several
// cadastral numbers yields one record per number, all in one bundle with the
// first as primary and the row price only on it.
func (n *Normalizer) Normalize(row Row, line int) []models.PlotRecord {
	cadastrals := n.cadastrals(row)
	if len(cadastrals) == 0 {
		if !n.opts.AllowEmptyCadastral {
			return nil
		}
		cadastrals = []string{""}
	}

	base := n.base(row, line)

	if len(cadastrals) == 1 {
		rec := base
		rec.CadastralNumber = cadastrals[0]
		rec.IsBundlePrimary = rec.BundleID != "" && asBool(n.value(row, FieldBundlePrimary))
		return []models.PlotRecord{rec}
	}

	bundleID := base.BundleID
	if bundleID == "" {
		bundleID = fmt.Sprintf("import-%d-%s", line, cadastrals[0])
	}
	bundleTitle := base.BundleTitle
	if bundleTitle == "" {
		bundleTitle = base.Title
	}

	out := make([]models.PlotRecord, 0, len(cadastrals))
	for i, cad := range cadastrals {
		rec := base.Clone()
		rec.CadastralNumber = cad
		rec.BundleID = bundleID
		rec.BundleTitle = bundleTitle
		rec.IsBundlePrimary = i == 0
		if i > 0 {
			rec.Price = 0
		}
		out = append(out, rec)
	}
	return out
}

// cadastrals returns the auxiliary columns when any is set, else the main column.
func (n *Normalizer) cadastrals(row Row) []string {
	seen := make(map[string]struct{}, 3)
	var aux []string
	for _, field := range []Field{FieldCadastral1, FieldCadastral2, FieldCadastral3} {
		cad := asString(n.value(row, field))
		if cad == "" {
			continue
		}
		if _, dup := seen[cad]; dup {
			continue
		}
		seen[cad] = struct{}{}
		aux = append(aux, cad)
	}
	if len(aux) > 0 {
		return aux
	}
	if cad := asString(n.value(row, FieldCadastral)); cad != "" {
		return []string{cad}
	}
	return nil
}

// base builds the fields shared by every record expanded from the row.
func (n *Normalizer) base(row Row, line int) models.PlotRecord {
	settlement := asString(n.value(row, FieldSettlement))
	if settlement == "" {
		settlement = n.opts.Settlement
	}

	district := n.opts.District
	if district == "" {
		district = asString(n.value(row, FieldDistrict))
	}

	description := n.opts.Description
	if description == "" {
		description = asString(n.value(row, FieldDescription))
	}

	area := asFloat(n.value(row, FieldArea))
	if area < 0 {
		area = 0
	}
	if area > squareMetersThreshold {
		area = roundTo(area/100, 1)
	}

	title := asString(n.value(row, FieldTitle))
	if title == "" || title == untitled {
		title = fallbackTitle(area, settlement)
	}

	landStatus := asString(n.value(row, FieldLandStatus))
	if landStatus == "" {
		landStatus = models.DefaultLandStatus
	}

	ownership := OwnershipOf(landStatus)
	if raw := n.value(row, FieldOwnership); raw != nil {
		ownership = OwnershipOf(asString(raw))
	}

	rec := models.PlotRecord{
		Title:          title,
		Description:    description,
		District:       district,
		Settlement:     settlement,
		LandStatus:     landStatus,
		OwnershipType:  ownership,
		LeaseFrom:      asDate(n.value(row, FieldLeaseFrom)),
		LeaseTo:        asDate(n.value(row, FieldLeaseTo)),
		BundleID:       asString(n.value(row, FieldBundleID)),
		BundleTitle:    asString(n.value(row, FieldBundleTitle)),
		AreaSotok:      area,
		Price:          asPrice(n.value(row, FieldPrice)),
		SourceLine:     line,
		IsReserved:     asBool(n.value(row, FieldReserved)),
		HasGas:         asBool(n.value(row, FieldGas)),
		HasElectricity: asBool(n.value(row, FieldElectricity)),
		HasWater:       asBool(n.value(row, FieldWater)),
		HasInstallment: asBool(n.value(row, FieldInstallment)),
	}

	rec.CenterLat = asOptionalFloat(n.value(row, FieldCenterLat))
	rec.CenterLon = asOptionalFloat(n.value(row, FieldCenterLon))
	if !rec.HasCenter() {
		rec.CenterLat, rec.CenterLon = nil, nil
	}
	rec.Geometry = geometryOf(n.value(row, FieldGeometry))
	rec.HasCoordinates = asBool(n.value(row, FieldHasCoordinates)) || rec.HasCenter() || !rec.Geometry.IsEmpty()

	return rec
}

// value returns the first non-empty cell among the field's columns, or nil.
func (n *Normalizer) value(row Row, field Field) interface{} {
	for _, col := range n.aliases[field] {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// OwnershipOf maps free text onto an ownership type: lease, rent or anything
// mentioning "аренд" is a lease, everything else is full ownership.
func OwnershipOf(text string) string {
	v := strings.ToLower(strings.TrimSpace(text))
	if v == "lease" || v == "rent" || strings.Contains(v, "аренд") {
		return models.OwnershipLease
	}
	return models.OwnershipFull
}

func fallbackTitle(area float64, settlement string) string {
	title := fmt.Sprintf("Участок %s сот.", strconv.FormatFloat(area, 'f', -1, 64))
	if settlement != "" {
		title += ", " + settlement
	}
	return title
}

// geometryOf accepts a JSON string or an already-decoded structure.
// Anything that is not valid JSON is dropped.
func geometryOf(v interface{}) models.Geometry {
	var data []byte
	switch t := v.(type) {
	case nil:
		return models.Geometry{}
	case string:
		data = []byte(t)
	case json.RawMessage:
		data = t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return models.Geometry{}
		}
		data = b
	}
	g, err := models.NewGeometry(data)
	if err != nil {
		return models.Geometry{}
	}
	return g
}
