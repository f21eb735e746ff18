package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stwalsh4118/plotsync/internal/bundle"
	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/normalize"
	"github.com/stwalsh4118/plotsync/internal/progress"
	"github.com/stwalsh4118/plotsync/internal/reconcile"
	"github.com/stwalsh4118/plotsync/internal/resolver"
)

// Service-level errors
var (
	ErrTooManyRows   = errors.New("too many rows")
	ErrScopeRequired = reconcile.ErrScopeRequired

	ErrCatalogUnavailable = errors.New("catalog is not configured")
)

// EventBuffer is the channel capacity of a run's event stream.
const EventBuffer = 64

// Resolver fills in missing location data during preview.
type Resolver interface {
	Run(ctx context.Context, records []models.PlotRecord, sink progress.Sink) (*resolver.Result, error)
}

// Reconciler applies a committed batch to the catalog.
type Reconciler interface {
	Run(ctx context.Context, records []models.PlotRecord, scope models.ImportScope, sink progress.Sink) (*reconcile.Outcome, error)
}

// ImportLogStore persists and lists commit audit records.
type ImportLogStore interface {
	Create(ctx context.Context, log *models.ImportLog) error
	List(ctx context.Context, limit int) ([]models.ImportLog, error)
}

// Importer is the import pipeline as seen by the HTTP and CLI surfaces.
type Importer interface {
	NewRun() *progress.RunContext
	MaxRows() int
	Preview(ctx context.Context, req PreviewRequest, sink progress.Sink) (*progress.Preview, error)
	Commit(ctx context.Context, req CommitRequest, sink progress.Sink) (*reconcile.Outcome, error)
	Logs(ctx context.Context, limit int) ([]models.ImportLog, error)
}

var _ Importer = (*ImportService)(nil)

// PreviewRequest is the input of a preview run.
type PreviewRequest struct {
	Rows                []normalize.Row
	District            string
	Settlement          string
	Description         string
	AutoResolve         bool
	AllowEmptyCadastral bool
}

// CommitRequest is the input of a commit run. Scope is a settlement name or
// models.MultiSettlementScope.
type CommitRequest struct {
	Records     []models.PlotRecord
	Scope       string
	FileName    string
	FileType    string
	AutoResolve bool
}

// ImportService orchestrates preview and commit runs.
type ImportService struct {
	resolver Resolver
	engine   Reconciler
	logs     ImportLogStore
	log      *logger.Logger
	aliases  normalize.Aliases
	maxRows  int
}

// ImportServiceOptions configures an ImportService. Resolver and Logs may be
// nil: preview then skips resolution and commits are not audited.
type ImportServiceOptions struct {
	Resolver Resolver
	Engine   Reconciler
	Logs     ImportLogStore
	Aliases  normalize.Aliases
	MaxRows  int
}

// NewImportService creates an ImportService.
func NewImportService(opts ImportServiceOptions, log *logger.Logger) *ImportService {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Aliases == nil {
		opts.Aliases = normalize.DefaultAliases()
	}
	return &ImportService{
		resolver: opts.Resolver,
		engine:   opts.Engine,
		logs:     opts.Logs,
		log:      log,
		aliases:  opts.Aliases,
		maxRows:  opts.MaxRows,
	}
}

// NewRun opens an event stream with a fresh run id.
func (s *ImportService) NewRun() *progress.RunContext {
	return progress.NewRunContext(uuid.NewString(), EventBuffer)
}

// MaxRows returns the row limit of one import, 0 when unlimited.
func (s *ImportService) MaxRows() int {
	return s.maxRows
}

// Preview normalizes and groups the rows, optionally resolves missing
// location data, and ends the stream with a preview event. A fatal failure
// ends it with an error event instead.
func (s *ImportService) Preview(ctx context.Context, req PreviewRequest, sink progress.Sink) (*progress.Preview, error) {
	if sink == nil {
		sink = progress.Discard
	}
	log := s.log.WithRun(runIDOf(sink), progress.PhasePreview)

	preview, err := s.preview(ctx, req, sink, log)
	if err != nil {
		log.Error("preview failed", err, map[string]interface{}{"rows": len(req.Rows)})
		s.fail(ctx, sink, progress.PhasePreview, err)
		return nil, err
	}
	if err := sink.Emit(ctx, progress.PreviewResult(*preview)); err != nil {
		return nil, err
	}
	return preview, nil
}

func (s *ImportService) preview(ctx context.Context, req PreviewRequest, sink progress.Sink, log *logger.Logger) (*progress.Preview, error) {
	if s.maxRows > 0 && len(req.Rows) > s.maxRows {
		return nil, fmt.Errorf("%w: %d rows, limit is %d", ErrTooManyRows, len(req.Rows), s.maxRows)
	}
	if err := sink.Emit(ctx, progress.Start(progress.PhasePreview, len(req.Rows), fmt.Sprintf("normalizing %d rows", len(req.Rows)))); err != nil {
		return nil, err
	}

	normalizer := normalize.New(normalize.Options{
		Aliases:             s.aliases,
		District:            req.District,
		Settlement:          req.Settlement,
		Description:         req.Description,
		AllowEmptyCadastral: req.AllowEmptyCadastral,
	})
	grouped := bundle.Group(normalizer.NormalizeAll(req.Rows))

	preview := &progress.Preview{
		States:   []models.ResolutionState{},
		TimedOut: []string{},
	}

	if req.AutoResolve {
		if s.resolver == nil {
			preview.ResolverDisabled = true
			if err := sink.Emit(ctx, progress.Warning(progress.PhaseResolve, "cadastral lookup is not configured")); err != nil {
				return nil, err
			}
		} else {
			res, err := s.resolver.Run(ctx, grouped.Records, sink)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve cadastral numbers: %w", err)
			}
			grouped = bundle.Group(res.Records)
			preview.States = res.States
			preview.TimedOut = res.TimedOut
			preview.ResolverDisabled = res.Disabled
		}
	}

	preview.Records = grouped.Records
	preview.Bundles = grouped.Bundles
	preview.Diagnostics = grouped.Diagnostics

	log.Info("preview ready", map[string]interface{}{
		"rows":      len(req.Rows),
		"records":   len(preview.Records),
		"bundles":   len(preview.Bundles),
		"listings":  preview.Diagnostics.TotalListings,
		"timed_out": len(preview.TimedOut),
	})
	return preview, nil
}

// Commit reconciles the records against the catalog. Once started the run is
// not cancelled by ctx; the stream ends with a summary or an error event.
func (s *ImportService) Commit(ctx context.Context, req CommitRequest, sink progress.Sink) (*reconcile.Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	if sink == nil {
		sink = progress.Discard
	}
	log := s.log.WithRun(runIDOf(sink), progress.PhaseCommit)

	if s.engine == nil {
		s.fail(ctx, sink, progress.PhaseCommit, ErrCatalogUnavailable)
		return nil, ErrCatalogUnavailable
	}

	scope := ScopeFor(req)
	if scope.IsEmpty() {
		log.Warn("commit without scope", map[string]interface{}{"records": len(req.Records)})
		s.fail(ctx, sink, progress.PhaseCommit, ErrScopeRequired)
		return nil, ErrScopeRequired
	}

	grouped := bundle.Group(req.Records)
	log.Info("commit started", map[string]interface{}{
		"scope":   scope.Label(),
		"records": len(grouped.Records),
		"file":    req.FileName,
	})

	outcome, err := s.engine.Run(ctx, grouped.Records, scope, sink)
	if err != nil {
		log.Error("commit failed", err, map[string]interface{}{"scope": scope.Label()})
		s.fail(ctx, sink, progress.PhaseCommit, err)
		return nil, err
	}

	s.audit(ctx, req, scope, grouped.Records, outcome, log)
	return outcome, nil
}

// Logs returns the most recent import logs.
func (s *ImportService) Logs(ctx context.Context, limit int) ([]models.ImportLog, error) {
	if s.logs == nil {
		return []models.ImportLog{}, nil
	}
	logs, err := s.logs.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	return logs, nil
}

// ScopeFor resolves the scope of a commit. An empty scope is derived from the
// records when AutoResolve is set.
func ScopeFor(req CommitRequest) models.ImportScope {
	scope := models.ParseScope(req.Scope, req.Records)
	if scope.IsEmpty() && req.AutoResolve {
		scope = models.DeriveScope(req.Records)
	}
	return scope
}

// audit writes the import log. Failures are logged only.
func (s *ImportService) audit(ctx context.Context, req CommitRequest, scope models.ImportScope, records []models.PlotRecord, outcome *reconcile.Outcome, log *logger.Logger) {
	if s.logs == nil {
		return
	}
	entry := BuildImportLog(req, scope, records, outcome)
	if err := s.logs.Create(ctx, entry); err != nil {
		log.Error("failed to write import log", err, map[string]interface{}{"scope": scope.Label()})
		return
	}
	log.Debug("import log written", map[string]interface{}{"import_log_id": entry.ID})
}

// BuildImportLog turns a finished commit into its audit record. Skipped
// records are not listed.
func BuildImportLog(req CommitRequest, scope models.ImportScope, records []models.PlotRecord, outcome *reconcile.Outcome) *models.ImportLog {
	settlementOf := make(map[string]string, len(records))
	for i := range records {
		if _, ok := settlementOf[records[i].CadastralNumber]; !ok {
			settlementOf[records[i].CadastralNumber] = records[i].Settlement
		}
	}

	entry := &models.ImportLog{
		Scope:         scope.Label(),
		FileName:      req.FileName,
		FileType:      req.FileType,
		AddedCount:    outcome.Summary.Added,
		UpdatedCount:  outcome.Summary.Updated,
		ArchivedCount: outcome.Summary.Archived,
		ErrorCount:    outcome.Summary.ErrorCount,
		Details:       []models.ImportLogDetail{},
	}
	for _, d := range outcome.Details {
		if d.Status == models.DetailSkipped {
			continue
		}
		settlement := settlementOf[d.CadastralNumber]
		if settlement == "" && !scope.Multi {
			settlement = scope.Label()
		}
		entry.Details = append(entry.Details, models.ImportLogDetail{
			CadastralNumber: d.CadastralNumber,
			Operation:       string(d.Status),
			Settlement:      settlement,
			Message:         d.Message,
		})
	}
	return entry
}

// fail ends the stream with an error event. The stream may already be gone.
func (s *ImportService) fail(ctx context.Context, sink progress.Sink, phase string, err error) {
	if emitErr := sink.Emit(ctx, progress.Failure(phase, err)); emitErr != nil && !errors.Is(emitErr, progress.ErrTerminated) {
		s.log.Warn("failed to emit error event", map[string]interface{}{"error": emitErr.Error()})
	}
}

func runIDOf(sink progress.Sink) string {
	if r, ok := sink.(interface{ ID() string }); ok {
		return r.ID()
	}
	return ""
}
