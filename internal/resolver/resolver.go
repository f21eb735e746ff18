// Package resolver fills missing address and coordinate fields from an
// external cadastral lookup with bounded concurrency, per-call timeouts and a
// circuit breaker.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/progress"
)

// ErrTimeout marks a lookup abandoned after Options.CallTimeout.
var ErrTimeout = errors.New("cadastral lookup timed out")

// Progress percentages reported for a resolving record.
const (
	percentDispatched = 30
	percentAnswered   = 70
	percentDone       = 100
)

// Lookup queries the external cadastral service. Implementations may block
// indefinitely; the resolver enforces its own timeout.
type Lookup interface {
	Resolve(ctx context.Context, cadastral string) (*models.CadastralInfo, error)
}

// Options tunes the resolver.
type Options struct {
	CallTimeout            time.Duration
	BatchPause             time.Duration
	BatchSize              int
	MaxConsecutiveFailures int
}

// DefaultOptions returns batches of 2, a 90s call timeout, a 250ms pause and a
// breaker threshold of 3.
func DefaultOptions() Options {
	return Options{
		CallTimeout:            90 * time.Second,
		BatchPause:             250 * time.Millisecond,
		BatchSize:              2,
		MaxConsecutiveFailures: 3,
	}
}

// Result is the outcome of one resolver run. Records keep input order.
type Result struct {
	Records  []models.PlotRecord      `json:"records"`
	States   []models.ResolutionState `json:"states"`
	TimedOut []string                 `json:"timed_out"`
	Calls    int                      `json:"calls"`
	Disabled bool                     `json:"disabled"`
}

// Resolver runs lookups for one import at a time. A Resolver holds no
// per-run state and may be reused.
type Resolver struct {
	lookup Lookup
	log    *logger.Logger
	opts   Options
}

// New creates a Resolver. Zero option values fall back to DefaultOptions.
func New(lookup Lookup, opts Options, log *logger.Logger) *Resolver {
	def := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{lookup: lookup, opts: opts, log: log}
}

// outcome is the result of one lookup, sent back to the run loop.
type outcome struct {
	info     *models.CadastralInfo
	err      error
	index    int
	timedOut bool
}

// run holds the state of a single Run call. It is owned by the loop goroutine.
type run struct {
	sink        progress.Sink
	records     []models.PlotRecord
	states      []*models.ResolutionState
	hadLocation []bool
	timedOut    []string
	calls       int
	failures    int
	disabled    bool
}

// Run resolves every candidate record and returns the merged set. Candidates
// have a cadastral number and lack a settlement, a district or a center point.
// Lookup failures never fail the run; only ctx cancellation or a sink error
// does.
func (r *Resolver) Run(ctx context.Context, records []models.PlotRecord, sink progress.Sink) (*Result, error) {
	if sink == nil {
		sink = progress.Discard
	}

	st := &run{
		sink:        sink,
		records:     make([]models.PlotRecord, len(records)),
		states:      make([]*models.ResolutionState, len(records)),
		hadLocation: make([]bool, len(records)),
	}

	var queue []int
	for i := range records {
		st.records[i] = records[i].Clone()
		rec := &st.records[i]
		rec.CadastralNumber = strings.TrimSpace(rec.CadastralNumber)
		if rec.CadastralNumber == "" {
			continue
		}
		st.hadLocation[i] = rec.HasLocation()
		source := models.CoordinatesNone
		if st.hadLocation[i] {
			source = models.CoordinatesFromFile
		}
		state := &models.ResolutionState{
			CadastralNumber:  rec.CadastralNumber,
			Status:           models.ResolutionPending,
			CoordinateSource: source,
		}
		st.states[i] = state
		if !isCandidate(rec) {
			state.Status = models.ResolutionSkipped
			state.Percent = percentDone
			state.Message = "address and coordinates already present"
			continue
		}
		queue = append(queue, i)
	}

	total := len(queue)
	processed := 0
	r.log.Info("resolving cadastral numbers", map[string]interface{}{
		"candidates": total,
		"records":    len(records),
	})

	for len(queue) > 0 {
		if st.disabled {
			for _, idx := range queue {
				if err := st.finish(ctx, idx, models.ResolutionSkipped, "cadastral lookup disabled after repeated failures"); err != nil {
					return nil, err
				}
			}
			processed += len(queue)
			queue = nil
			if err := sink.Emit(ctx, progress.Batch(progress.PhaseResolve, processed, total)); err != nil {
				return nil, err
			}
			break
		}

		// Never launch more calls than it takes to trip the breaker.
		width := r.opts.BatchSize
		if remaining := r.opts.MaxConsecutiveFailures - st.failures; remaining < width {
			width = remaining
		}
		if width > len(queue) {
			width = len(queue)
		}
		batch := queue[:width]
		queue = queue[width:]

		if err := r.runBatch(ctx, st, batch); err != nil {
			return nil, err
		}
		processed += len(batch)
		if err := sink.Emit(ctx, progress.Batch(progress.PhaseResolve, processed, total)); err != nil {
			return nil, err
		}

		if len(queue) > 0 && !st.disabled && r.opts.BatchPause > 0 {
			if err := sleep(ctx, r.opts.BatchPause); err != nil {
				return nil, err
			}
		}
	}

	result := &Result{
		Records:  st.records,
		States:   make([]models.ResolutionState, 0, len(records)),
		TimedOut: uniqueStrings(st.timedOut),
		Calls:    st.calls,
		Disabled: st.disabled,
	}
	for _, s := range st.states {
		if s != nil {
			result.States = append(result.States, *s)
		}
	}

	if len(result.TimedOut) > 0 {
		msg := fmt.Sprintf("cadastral lookup timed out for %d cadastral numbers; their address and coordinates may stay empty", len(result.TimedOut))
		r.log.Warn(msg, map[string]interface{}{"cadastral_numbers": result.TimedOut})
		if err := sink.Emit(ctx, progress.Warning(progress.PhaseResolve, msg)); err != nil {
			return nil, err
		}
	}

	r.log.Info("resolution finished", map[string]interface{}{
		"calls":     result.Calls,
		"timed_out": len(result.TimedOut),
		"disabled":  result.Disabled,
	})

	return result, nil
}

// runBatch launches one lookup per index and applies outcomes in completion order.
func (r *Resolver) runBatch(ctx context.Context, st *run, batch []int) error {
	for _, idx := range batch {
		if err := st.update(ctx, idx, models.ResolutionResolving, percentDispatched, ""); err != nil {
			return err
		}
	}

	results := make(chan outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(batch))
	for _, idx := range batch {
		cad := st.records[idx].CadastralNumber
		g.Go(func() error {
			out := r.call(gctx, cad)
			out.index = idx
			results <- out
			return nil
		})
	}
	st.calls += len(batch)

	var loopErr error
	for range batch {
		out := <-results
		if loopErr != nil {
			continue
		}
		loopErr = r.apply(ctx, st, out)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if loopErr != nil {
		return loopErr
	}
	return ctx.Err()
}

// call performs one lookup bounded by CallTimeout. It returns even when the
// lookup ignores its context.
func (r *Resolver) call(ctx context.Context, cadastral string) outcome {
	cctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		info, err := r.lookup.Resolve(cctx, cadastral)
		done <- outcome{info: info, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return outcome{err: fmt.Errorf("%w: %v", ErrTimeout, out.err), timedOut: true}
		}
		return out
	case <-cctx.Done():
		if ctx.Err() != nil {
			return outcome{err: ctx.Err()}
		}
		return outcome{err: fmt.Errorf("%w after %s", ErrTimeout, r.opts.CallTimeout), timedOut: true}
	}
}

// apply merges one outcome and advances the breaker.
func (r *Resolver) apply(ctx context.Context, st *run, out outcome) error {
	cad := st.records[out.index].CadastralNumber

	if out.err == nil && out.info == nil {
		out.err = errors.New("empty response from cadastral lookup")
	}
	if out.err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.failures++
		if out.timedOut {
			st.timedOut = append(st.timedOut, cad)
		}
		r.log.Warn("cadastral lookup failed", map[string]interface{}{
			"cadastral_number":     cad,
			"error":                out.err.Error(),
			"consecutive_failures": st.failures,
		})
		if err := st.finish(ctx, out.index, models.ResolutionError, out.err.Error()); err != nil {
			return err
		}
		if !st.disabled && st.failures >= r.opts.MaxConsecutiveFailures {
			st.disabled = true
			msg := fmt.Sprintf("cadastral lookup disabled after %d consecutive failures; continuing without it", st.failures)
			r.log.Warn(msg, nil)
			return st.sink.Emit(ctx, progress.Warning(progress.PhaseResolve, msg))
		}
		return nil
	}

	st.failures = 0
	if err := st.update(ctx, out.index, models.ResolutionResolving, percentAnswered, ""); err != nil {
		return err
	}
	st.merge(out.index, out.info)
	return st.finish(ctx, out.index, models.ResolutionResolved, "")
}

// merge fills empty fields only; values from the source are never replaced.
func (st *run) merge(idx int, info *models.CadastralInfo) {
	rec := &st.records[idx]
	state := st.states[idx]

	if rec.Settlement == "" && info.Settlement != "" {
		rec.Settlement = info.Settlement
	}
	if rec.District == "" && info.District != "" {
		rec.District = info.District
	}
	if rec.LandStatus == "" && info.LandStatus != "" {
		rec.LandStatus = info.LandStatus
	}
	if !rec.HasCenter() && info.HasCenter() {
		lat, lon := *info.CenterLat, *info.CenterLon
		rec.CenterLat, rec.CenterLon = &lat, &lon
		rec.HasCoordinates = true
		if !st.hadLocation[idx] {
			state.CoordinateSource = models.CoordinatesFromExternal
		}
	}
	if info.HasContour != nil {
		v := *info.HasContour
		state.HasContour = &v
	}
}

func (st *run) update(ctx context.Context, idx int, status models.ResolutionStatus, percent int, msg string) error {
	state := st.states[idx]
	state.Status = status
	state.Percent = percent
	state.Message = msg
	return st.sink.Emit(ctx, progress.ResolutionDetail(*state))
}

func (st *run) finish(ctx context.Context, idx int, status models.ResolutionStatus, msg string) error {
	return st.update(ctx, idx, status, percentDone, msg)
}

func isCandidate(rec *models.PlotRecord) bool {
	return rec.Settlement == "" || rec.District == "" || !rec.HasCenter()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
