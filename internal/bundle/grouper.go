// Package bundle groups parcels sold together as one listing.
package bundle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stwalsh4118/plotsync/internal/models"
)

// Duplicate is a cadastral number seen more than once in the input.
type Duplicate struct {
	CadastralNumber string `json:"cadastral_number"`
	Count           int    `json:"count"`
}

// Diagnostics summarizes a grouped record set.
type Diagnostics struct {
	Duplicates       []Duplicate `json:"duplicates"`
	TotalRecords     int         `json:"total_records"`
	TotalCadastrals  int         `json:"total_cadastrals"`
	UniqueCadastrals int         `json:"unique_cadastrals"`
	EmptyCadastrals  int         `json:"empty_cadastrals"`
	DuplicateRows    int         `json:"duplicate_rows"`
	Bundles          int         `json:"bundles"`
	Singletons       int         `json:"singletons"`
	TotalListings    int         `json:"total_listings"`
	LeaseCount       int         `json:"lease_count"`
}

// Result is the grouped view. Records are in display order.
type Result struct {
	Records     []models.PlotRecord `json:"records"`
	Bundles     []models.Bundle     `json:"bundles"`
	Diagnostics Diagnostics         `json:"diagnostics"`
}

// Group partitions records by bundle id. In every group of more than one
// record exactly one member is primary (the flagged one, else the first),
// non-primary prices are zeroed and all members share one bundle title.
// The input slice is not modified.
func Group(records []models.PlotRecord) Result {
	byBundle := make(map[string][]models.PlotRecord)
	var order []string
	var singles []models.PlotRecord

	for i := range records {
		rec := records[i].Clone()
		rec.BundleID = strings.TrimSpace(rec.BundleID)
		if rec.BundleID == "" {
			singles = append(singles, rec)
			continue
		}
		if _, ok := byBundle[rec.BundleID]; !ok {
			order = append(order, rec.BundleID)
		}
		byBundle[rec.BundleID] = append(byBundle[rec.BundleID], rec)
	}

	var bundles []models.Bundle
	for _, id := range order {
		members := byBundle[id]
		if len(members) == 1 {
			singles = append(singles, members[0])
			continue
		}
		bundles = append(bundles, collapse(id, members))
	}

	sort.Slice(bundles, func(i, j int) bool { return bundles[i].ID < bundles[j].ID })
	sort.SliceStable(singles, func(i, j int) bool {
		return singles[i].CadastralNumber < singles[j].CadastralNumber
	})

	out := make([]models.PlotRecord, 0, len(records))
	for i := range bundles {
		out = append(out, bundles[i].Members...)
	}
	out = append(out, singles...)

	return Result{
		Records:     out,
		Bundles:     bundles,
		Diagnostics: diagnose(records, len(bundles), len(singles)),
	}
}

// collapse applies the bundle invariants to one group of members.
func collapse(id string, members []models.PlotRecord) models.Bundle {
	primary := 0
	for i := range members {
		if members[i].IsBundlePrimary {
			primary = i
			break
		}
	}

	title := ""
	for i := range members {
		if t := strings.TrimSpace(members[i].BundleTitle); t != "" {
			title = t
			break
		}
	}
	if title == "" {
		title = LotTitle(members)
	}

	b := models.Bundle{ID: id, Title: title, Members: members}
	for i := range members {
		members[i].BundleTitle = title
		members[i].IsBundlePrimary = i == primary
		if i != primary {
			members[i].Price = 0
		}
		b.TotalArea += members[i].AreaSotok
		b.TotalPrice += members[i].Price
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].IsBundlePrimary != members[j].IsBundlePrimary {
			return members[i].IsBundlePrimary
		}
		return members[i].CadastralNumber < members[j].CadastralNumber
	})
	return b
}

// LotTitle synthesizes a bundle title, naming the settlement when all members share one.
func LotTitle(members []models.PlotRecord) string {
	title := fmt.Sprintf("Лот из %d участков", len(members))
	if s := commonSettlement(members); s != "" {
		title += " (" + s + ")"
	}
	return title
}

func commonSettlement(members []models.PlotRecord) string {
	if len(members) == 0 {
		return ""
	}
	s := strings.TrimSpace(members[0].Settlement)
	for i := 1; i < len(members); i++ {
		if strings.TrimSpace(members[i].Settlement) != s {
			return ""
		}
	}
	return s
}

func diagnose(records []models.PlotRecord, bundles, singletons int) Diagnostics {
	d := Diagnostics{
		TotalRecords:  len(records),
		Bundles:       bundles,
		Singletons:    singletons,
		TotalListings: bundles + singletons,
		Duplicates:    []Duplicate{},
	}

	counts := make(map[string]int, len(records))
	for i := range records {
		if records[i].IsLease() {
			d.LeaseCount++
		}
		cad := strings.TrimSpace(records[i].CadastralNumber)
		if cad == "" {
			d.EmptyCadastrals++
			continue
		}
		d.TotalCadastrals++
		counts[cad]++
	}
	d.UniqueCadastrals = len(counts)

	for cad, n := range counts {
		if n > 1 {
			d.Duplicates = append(d.Duplicates, Duplicate{CadastralNumber: cad, Count: n})
			d.DuplicateRows += n - 1
		}
	}
	sort.Slice(d.Duplicates, func(i, j int) bool {
		if d.Duplicates[i].Count != d.Duplicates[j].Count {
			return d.Duplicates[i].Count > d.Duplicates[j].Count
		}
		return d.Duplicates[i].CadastralNumber < d.Duplicates[j].CadastralNumber
	})

	return d
}
