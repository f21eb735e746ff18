// Package progress carries the ordered event stream of one import run.
package progress

import (
	"github.com/stwalsh4118/plotsync/internal/bundle"
	"github.com/stwalsh4118/plotsync/internal/models"
)

// Kind is the event type written to the wire as "type".
type Kind string

// Event kinds
const (
	KindStart   Kind = "start"
	KindBatch   Kind = "batch"
	KindDetail  Kind = "detail"
	KindWarning Kind = "warning"
	KindPreview Kind = "preview"
	KindSummary Kind = "summary"
	KindError   Kind = "error"
)

// Terminal reports whether no event may follow one of this kind.
func (k Kind) Terminal() bool {
	return k == KindSummary || k == KindError || k == KindPreview
}

// Phases
const (
	PhasePreview = "preview"
	PhaseResolve = "resolve"
	PhaseCommit  = "commit"
)

// Event is one entry of the stream. Exactly one payload field is set for
// detail, preview and summary events.
type Event struct {
	Resolution *models.ResolutionState      `json:"resolution,omitempty"`
	Detail     *models.ReconciliationDetail `json:"detail,omitempty"`
	Summary    *models.ImportSummary        `json:"summary,omitempty"`
	Preview    *Preview                     `json:"preview,omitempty"`
	Kind       Kind                         `json:"type"`
	RunID      string                       `json:"run_id"`
	Phase      string                       `json:"phase,omitempty"`
	Message    string                       `json:"message,omitempty"`
	Seq        int                          `json:"seq"`
	Processed  int                          `json:"processed,omitempty"`
	Total      int                          `json:"total,omitempty"`
}

// Preview is the payload of the final preview event.
type Preview struct {
	Records          []models.PlotRecord      `json:"records"`
	Bundles          []models.Bundle          `json:"bundles"`
	States           []models.ResolutionState `json:"states"`
	TimedOut         []string                 `json:"timed_out"`
	Diagnostics      bundle.Diagnostics       `json:"diagnostics"`
	ResolverDisabled bool                     `json:"resolver_disabled"`
}

// Start builds a start event.
func Start(phase string, total int, message string) Event {
	return Event{Kind: KindStart, Phase: phase, Total: total, Message: message}
}

// Batch builds a cumulative progress event.
func Batch(phase string, processed, total int) Event {
	return Event{Kind: KindBatch, Phase: phase, Processed: processed, Total: total}
}

// ResolutionDetail builds a detail event for a resolver state transition.
func ResolutionDetail(state models.ResolutionState) Event {
	return Event{Kind: KindDetail, Phase: PhaseResolve, Resolution: &state}
}

// ReconcileDetail builds a detail event for one reconciliation outcome.
func ReconcileDetail(detail models.ReconciliationDetail) Event {
	return Event{Kind: KindDetail, Phase: PhaseCommit, Detail: &detail}
}

// Warning builds a non-fatal notice.
func Warning(phase, message string) Event {
	return Event{Kind: KindWarning, Phase: phase, Message: message}
}

// Summary builds the terminal commit event.
func Summary(summary models.ImportSummary) Event {
	return Event{Kind: KindSummary, Phase: PhaseCommit, Summary: &summary, Message: summary.Message}
}

// PreviewResult builds the terminal preview event.
func PreviewResult(p Preview) Event {
	return Event{Kind: KindPreview, Phase: PhasePreview, Preview: &p}
}

// Failure builds the terminal error event.
func Failure(phase string, err error) Event {
	return Event{Kind: KindError, Phase: phase, Message: err.Error()}
}
