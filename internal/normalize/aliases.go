package normalize

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Field names a canonical PlotRecord attribute that can be fed from source columns.
type Field string

// Canonical fields
const (
	FieldTitle          Field = "title"
	FieldDescription    Field = "description"
	FieldCadastral      Field = "cadastral_number"
	FieldCadastral1     Field = "cadastral_1"
	FieldCadastral2     Field = "cadastral_2"
	FieldCadastral3     Field = "cadastral_3"
	FieldSettlement     Field = "settlement"
	FieldDistrict       Field = "district"
	FieldArea           Field = "area"
	FieldPrice          Field = "price"
	FieldBundleID       Field = "bundle_id"
	FieldBundleTitle    Field = "bundle_title"
	FieldBundlePrimary  Field = "is_bundle_primary"
	FieldCenterLat      Field = "center_lat"
	FieldCenterLon      Field = "center_lon"
	FieldGeometry       Field = "geometry"
	FieldHasCoordinates Field = "has_coordinates"
	FieldLandStatus     Field = "land_status"
	FieldOwnership      Field = "ownership_type"
	FieldLeaseFrom      Field = "lease_from"
	FieldLeaseTo        Field = "lease_to"
	FieldReserved       Field = "is_reserved"
	FieldGas            Field = "has_gas"
	FieldElectricity    Field = "has_electricity"
	FieldWater          Field = "has_water"
	FieldInstallment    Field = "has_installment"
)

// Aliases maps each field to its source columns in precedence order.
type Aliases map[Field][]string

// DefaultAliases returns the built-in precedence lists. Localized spreadsheet
// headers come first, generic JSON keys after.
func DefaultAliases() Aliases {
	return Aliases{
		FieldTitle:          {"Заголовок", "title"},
		FieldDescription:    {"Описание", "description"},
		FieldCadastral:      {"Кадастровый номер", "cadastral_number", "cadastral"},
		FieldCadastral1:     {"КН1", "KN1"},
		FieldCadastral2:     {"КН2", "KN2"},
		FieldCadastral3:     {"КН3", "KN3"},
		FieldSettlement:     {"Населенный пункт", "location", "settlement"},
		FieldDistrict:       {"Район", "district"},
		FieldArea:           {"Площадь (сот.)", "Площадь", "area_sotok", "area_sotka", "area"},
		FieldPrice:          {"Цена (₽)", "Цена", "price", "price_rub"},
		FieldBundleID:       {"bundle_id", "Bundle ID", "bundle"},
		FieldBundleTitle:    {"bundle_title", "Bundle Title"},
		FieldBundlePrimary:  {"is_bundle_primary", "Bundle Primary"},
		FieldCenterLat:      {"center_lat", "Center Lat", "Широта"},
		FieldCenterLon:      {"center_lon", "Center Lon", "Долгота"},
		FieldGeometry:       {"coordinates_json", "Coordinates JSON", "geometry"},
		FieldHasCoordinates: {"has_coordinates"},
		FieldLandStatus:     {"Статус земли", "Статус", "land_status"},
		FieldOwnership:      {"Форма владения", "ownership_type"},
		FieldLeaseFrom:      {"Аренда с", "lease_from"},
		FieldLeaseTo:        {"Аренда по", "lease_to"},
		FieldReserved:       {"Забронирован", "is_reserved"},
		FieldGas:            {"Газ", "has_gas"},
		FieldElectricity:    {"Электричество", "has_electricity"},
		FieldWater:          {"Вода", "has_water"},
		FieldInstallment:    {"Рассрочка", "has_installment"},
	}
}

// Merge returns a copy of a where each field's columns from override are
// placed ahead of the existing ones. Duplicates are dropped.
func (a Aliases) Merge(override Aliases) Aliases {
	out := make(Aliases, len(a))
	for field, cols := range a {
		out[field] = append([]string(nil), cols...)
	}
	for field, cols := range override {
		merged := make([]string, 0, len(cols)+len(out[field]))
		seen := make(map[string]struct{}, len(cols)+len(out[field]))
		for _, c := range append(append([]string(nil), cols...), out[field]...) {
			if _, ok := seen[c]; ok || c == "" {
				continue
			}
			seen[c] = struct{}{}
			merged = append(merged, c)
		}
		out[field] = merged
	}
	return out
}

// LoadAliases reads column overrides from a YAML file shaped like
//
//	title: ["Наименование"]
//	price: ["Стоимость", "cost"]
//
// and merges them ahead of the defaults. Unknown field names are rejected.
func LoadAliases(path string) (Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aliases file: %w", err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse aliases file %s: %w", path, err)
	}

	defaults := DefaultAliases()
	override := make(Aliases, len(raw))
	for name, cols := range raw {
		field := Field(name)
		if _, ok := defaults[field]; !ok {
			return nil, fmt.Errorf("unknown field %q in aliases file %s", name, path)
		}
		override[field] = cols
	}

	return defaults.Merge(override), nil
}
