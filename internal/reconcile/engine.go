// Package reconcile diffs an import batch against the persisted catalog and
// applies the minimal set of writes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/progress"
)

// ErrScopeRequired is returned when a run names no settlement.
var ErrScopeRequired = errors.New("import scope is required")

// CatalogStore is the persistence boundary of the engine.
type CatalogStore interface {
	// FindByScope returns active and archived listings whose settlement is in scope.
	FindByScope(ctx context.Context, scope models.ImportScope) ([]models.Listing, error)
	// FindByCadastral returns the listing with the cadastral number in any
	// settlement, or nil when there is none.
	FindByCadastral(ctx context.Context, cadastral string) (*models.Listing, error)
	// UpsertByCadastral inserts or updates the listing keyed by cadastral number.
	UpsertByCadastral(ctx context.Context, listing models.Listing) (models.UpsertResult, error)
	// Archive marks a listing inactive.
	Archive(ctx context.Context, id string) error
}

// Outcome is everything a run produced.
type Outcome struct {
	Details []models.ReconciliationDetail
	Summary models.ImportSummary
}

// Engine reconciles one batch at a time. Runs are strictly sequential.
type Engine struct {
	store CatalogStore
	log   *logger.Logger
}

// NewEngine creates an Engine.
func NewEngine(store CatalogStore, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{store: store, log: log}
}

// Run reconciles records against the listings in scope. Per-record failures
// are reported as details and never stop the run; only a failed scope lookup
// or a sink error is returned.
func (e *Engine) Run(ctx context.Context, records []models.PlotRecord, scope models.ImportScope, sink progress.Sink) (*Outcome, error) {
	if sink == nil {
		sink = progress.Discard
	}
	if scope.IsEmpty() {
		return nil, ErrScopeRequired
	}

	existing, err := e.store.FindByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load listings for scope %s: %w", scope.Label(), err)
	}

	byCadastral := make(map[string]*models.Listing, len(existing))
	for i := range existing {
		byCadastral[existing[i].CadastralNumber] = &existing[i]
	}

	e.log.Info("reconciliation started", map[string]interface{}{
		"scope":    scope.Label(),
		"records":  len(records),
		"existing": len(existing),
		"archival": scope.AllowsArchival(),
	})

	total := len(records)
	if err := sink.Emit(ctx, progress.Start(progress.PhaseCommit, total, fmt.Sprintf("reconciling %d records for %s", total, scope.Label()))); err != nil {
		return nil, err
	}

	out := &Outcome{Summary: models.ImportSummary{Scope: scope.Label(), Errors: []string{}}}
	seen := make(map[string]int, len(records))

	for i := range records {
		rec := records[i]
		line := rec.SourceLine
		if line == 0 {
			line = i + 1
		}
		detail := e.reconcileOne(ctx, &rec, line, byCadastral, seen, out)
		if err := e.record(ctx, sink, out, detail); err != nil {
			return nil, err
		}
		if err := sink.Emit(ctx, progress.Batch(progress.PhaseCommit, i+1, total)); err != nil {
			return nil, err
		}
	}

	if scope.AllowsArchival() {
		for i := range existing {
			l := &existing[i]
			if !l.IsActive {
				continue
			}
			if _, ok := seen[l.CadastralNumber]; ok {
				continue
			}
			detail := models.ReconciliationDetail{CadastralNumber: l.CadastralNumber, Status: models.DetailArchived, Message: "not present in import"}
			if err := e.store.Archive(ctx, l.ID); err != nil {
				e.log.Error("archive failed", err, map[string]interface{}{"cadastral_number": l.CadastralNumber, "listing_id": l.ID})
				detail.Status = models.DetailError
				detail.Message = "archive failed: " + err.Error()
			}
			if err := e.record(ctx, sink, out, detail); err != nil {
				return nil, err
			}
		}
	}

	s := &out.Summary
	s.Success = true
	s.Message = fmt.Sprintf("import finished: %d added, %d updated, %d archived, %d skipped, %d errors",
		s.Added, s.Updated, s.Archived, s.Skipped, s.ErrorCount)

	e.log.Info("reconciliation finished", map[string]interface{}{
		"scope":    s.Scope,
		"added":    s.Added,
		"updated":  s.Updated,
		"archived": s.Archived,
		"skipped":  s.Skipped,
		"errors":   s.ErrorCount,
	})

	if err := sink.Emit(ctx, progress.Summary(*s)); err != nil {
		return nil, err
	}
	return out, nil
}

// reconcileOne decides and applies the action for one record.
func (e *Engine) reconcileOne(ctx context.Context, rec *models.PlotRecord, line int, byCadastral map[string]*models.Listing, seen map[string]int, out *Outcome) models.ReconciliationDetail {
	cad := strings.TrimSpace(rec.CadastralNumber)
	detail := models.ReconciliationDetail{CadastralNumber: cad, LineNumber: line}

	if cad == "" {
		detail.Status = models.DetailSkipped
		detail.Message = "no cadastral number"
		return detail
	}
	if first, dup := seen[cad]; dup {
		detail.Status = models.DetailSkipped
		detail.Message = fmt.Sprintf("duplicate in file, first seen on line %d", first)
		out.Summary.Errors = append(out.Summary.Errors, fmt.Sprintf("%s: duplicate in file (line %d)", cad, line))
		return detail
	}
	seen[cad] = line

	listing := ToListing(rec)

	current, found := byCadastral[cad]
	if found {
		listing = carryOver(listing, current)
		changed := ChangedFields(current, &listing)
		if len(changed) == 0 {
			detail.Status = models.DetailSkipped
			detail.Message = "no changes"
			return detail
		}
		listing.ID = current.ID
		if _, err := e.store.UpsertByCadastral(ctx, listing); err != nil {
			e.log.Error("update failed", err, map[string]interface{}{"cadastral_number": cad, "line": line})
			detail.Status = models.DetailError
			detail.Message = "update failed: " + err.Error()
			return detail
		}
		detail.Status = models.DetailUpdated
		detail.Message = "changed: " + strings.Join(changed, ", ")
		return detail
	}

	elsewhere, err := e.store.FindByCadastral(ctx, cad)
	if err != nil {
		e.log.Error("lookup failed", err, map[string]interface{}{"cadastral_number": cad, "line": line})
		detail.Status = models.DetailError
		detail.Message = "lookup failed: " + err.Error()
		return detail
	}
	if elsewhere != nil {
		listing = carryOver(listing, elsewhere)
		if len(ChangedFields(elsewhere, &listing)) == 0 {
			detail.Status = models.DetailSkipped
			detail.Message = "no changes"
			return detail
		}
		listing.ID = elsewhere.ID
	}

	res, err := e.store.UpsertByCadastral(ctx, listing)
	if err != nil {
		e.log.Error("insert failed", err, map[string]interface{}{"cadastral_number": cad, "line": line})
		detail.Status = models.DetailError
		detail.Message = "insert failed: " + err.Error()
		return detail
	}
	if res.Created {
		detail.Status = models.DetailAdded
		detail.Message = "created"
	} else {
		detail.Status = models.DetailUpdated
		detail.Message = "updated listing from another settlement"
	}
	return detail
}

// record counts a detail and streams it.
func (e *Engine) record(ctx context.Context, sink progress.Sink, out *Outcome, d models.ReconciliationDetail) error {
	s := &out.Summary
	switch d.Status {
	case models.DetailAdded:
		s.Added++
	case models.DetailUpdated:
		s.Updated++
	case models.DetailArchived:
		s.Archived++
	case models.DetailSkipped:
		s.Skipped++
	case models.DetailError:
		s.ErrorCount++
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %s", d.CadastralNumber, d.Message))
	}
	out.Details = append(out.Details, d)
	return sink.Emit(ctx, progress.ReconcileDetail(d))
}
