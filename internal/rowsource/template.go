package rowsource

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/stwalsh4118/plotsync/internal/normalize"
)

// TemplateSheet is the sheet name of the import template.
const TemplateSheet = "Участки"

// templateFields is the column order of the import template.
var templateFields = []normalize.Field{
	normalize.FieldCadastral,
	normalize.FieldTitle,
	normalize.FieldDescription,
	normalize.FieldDistrict,
	normalize.FieldSettlement,
	normalize.FieldArea,
	normalize.FieldPrice,
	normalize.FieldLandStatus,
	normalize.FieldOwnership,
	normalize.FieldLeaseFrom,
	normalize.FieldLeaseTo,
	normalize.FieldBundleID,
	normalize.FieldBundleTitle,
	normalize.FieldBundlePrimary,
	normalize.FieldReserved,
	normalize.FieldGas,
	normalize.FieldElectricity,
	normalize.FieldWater,
	normalize.FieldInstallment,
	normalize.FieldCenterLat,
	normalize.FieldCenterLon,
	normalize.FieldGeometry,
}

var templateExample = map[normalize.Field]interface{}{
	normalize.FieldCadastral:  "39:03:090913:541",
	normalize.FieldTitle:      "Участок у леса",
	normalize.FieldDistrict:   "Гурьевский район",
	normalize.FieldSettlement: "пос. Поддубное",
	normalize.FieldArea:       6.8,
	normalize.FieldPrice:      750000,
	normalize.FieldLandStatus: "ИЖС",
	normalize.FieldOwnership:  "Собственность",
	normalize.FieldGas:        "Да",
}

// TemplateHeaders returns the header row of the import template: the
// preferred column name of each field.
func TemplateHeaders() []string {
	aliases := normalize.DefaultAliases()
	headers := make([]string, len(templateFields))
	for i, field := range templateFields {
		headers[i] = aliases[field][0]
	}
	return headers
}

// WriteTemplate writes an XLSX import template with a bold, frozen header
// row and one example line.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(TemplateSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, header := range TemplateHeaders() {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetCellValue(TemplateSheet, col+"1", header); err != nil {
			return fmt.Errorf("failed to set header %s: %w", header, err)
		}
		if err := f.SetColWidth(TemplateSheet, col, col, float64(len([]rune(header))+6)); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
		if v, ok := templateExample[templateFields[i]]; ok {
			if err := f.SetCellValue(TemplateSheet, col+"2", v); err != nil {
				return fmt.Errorf("failed to set example cell: %w", err)
			}
		}
	}

	last, err := excelize.ColumnNumberToName(len(templateFields))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(TemplateSheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetPanes(TemplateSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}
