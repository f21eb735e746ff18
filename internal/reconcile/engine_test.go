package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/progress"
)

// memoryStore is an in-memory catalog keyed by cadastral number.
type memoryStore struct {
	mu         sync.Mutex
	listings   map[string]*models.Listing
	nextID     int
	writes     int
	findErr    error
	lookupErr  error
	upsertErrs map[string]error
	archiveErr error
}

func newMemoryStore(seed ...models.Listing) *memoryStore {
	s := &memoryStore{listings: map[string]*models.Listing{}, upsertErrs: map[string]error{}}
	for _, l := range seed {
		l := l
		if l.ID == "" {
			s.nextID++
			l.ID = fmt.Sprintf("listing-%d", s.nextID)
		}
		s.listings[l.CadastralNumber] = &l
	}
	return s
}

func (s *memoryStore) FindByScope(_ context.Context, scope models.ImportScope) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []models.Listing
	for _, l := range s.listings {
		if scope.Contains(l.Settlement) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memoryStore) FindByCadastral(_ context.Context, cad string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	l, ok := s.listings[cad]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *memoryStore) UpsertByCadastral(_ context.Context, l models.Listing) (models.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs[l.CadastralNumber]; err != nil {
		return models.UpsertResult{}, err
	}
	s.writes++
	if current, ok := s.listings[l.CadastralNumber]; ok {
		l.ID = current.ID
		s.listings[l.CadastralNumber] = &l
		return models.UpsertResult{ID: l.ID}, nil
	}
	s.nextID++
	l.ID = fmt.Sprintf("listing-%d", s.nextID)
	s.listings[l.CadastralNumber] = &l
	return models.UpsertResult{ID: l.ID, Created: true}, nil
}

func (s *memoryStore) Archive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archiveErr != nil {
		return s.archiveErr
	}
	for _, l := range s.listings {
		if l.ID == id {
			s.writes++
			l.IsActive = false
			return nil
		}
	}
	return fmt.Errorf("listing %s not found", id)
}

func (s *memoryStore) get(cad string) *models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[cad]
}

func plot(cad, settlement string) models.PlotRecord {
	return models.PlotRecord{
		CadastralNumber: cad,
		Title:           "Участок " + cad,
		Settlement:      settlement,
		District:        "Гурьевский район",
		LandStatus:      models.DefaultLandStatus,
		OwnershipType:   models.OwnershipFull,
		AreaSotok:       10,
		Price:           500000,
	}
}

func activeListing(cad, settlement string) models.Listing {
	rec := plot(cad, settlement)
	return ToListing(&rec)
}

func statuses(details []models.ReconciliationDetail) map[string]models.DetailStatus {
	out := make(map[string]models.DetailStatus, len(details))
	for _, d := range details {
		out[d.CadastralNumber] = d.Status
	}
	return out
}

func TestEngine_ArchivesUnseenAndAddsNew(t *testing.T) {
	store := newMemoryStore(activeListing("A", "X"))
	engine := NewEngine(store, nil)

	out, err := engine.Run(context.Background(), []models.PlotRecord{plot("B", "X")}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary.Added)
	assert.Equal(t, 1, out.Summary.Archived)
	assert.Equal(t, 0, out.Summary.ErrorCount)
	assert.True(t, out.Summary.Success)
	assert.Equal(t, models.DetailAdded, statuses(out.Details)["B"])
	assert.Equal(t, models.DetailArchived, statuses(out.Details)["A"])
	assert.False(t, store.get("A").IsActive)
	assert.True(t, store.get("B").IsActive)
}

func TestEngine_SecondRunIsNoOp(t *testing.T) {
	store := newMemoryStore(activeListing("A", "X"))
	engine := NewEngine(store, nil)
	records := []models.PlotRecord{plot("B", "X"), plot("C", "X")}
	ctx := context.Background()

	_, err := engine.Run(ctx, records, models.SingleScope("X"), nil)
	require.NoError(t, err)
	writes := store.writes

	out, err := engine.Run(ctx, records, models.SingleScope("X"), nil)
	require.NoError(t, err)

	assert.Equal(t, writes, store.writes)
	assert.Equal(t, 0, out.Summary.Added)
	assert.Equal(t, 0, out.Summary.Updated)
	assert.Equal(t, 0, out.Summary.Archived)
	assert.Equal(t, 2, out.Summary.Skipped)
	for _, d := range out.Details {
		assert.Equal(t, "no changes", d.Message)
	}
}

func TestEngine_UpdatesChangedFields(t *testing.T) {
	store := newMemoryStore(activeListing("A", "X"))
	rec := plot("A", "X")
	rec.Price = 650000
	rec.HasGas = true

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{rec}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	require.Len(t, out.Details, 1)
	assert.Equal(t, models.DetailUpdated, out.Details[0].Status)
	assert.Equal(t, "changed: price, has_gas", out.Details[0].Message)
	assert.Equal(t, int64(650000), store.get("A").Price)
	assert.Equal(t, "listing-1", store.get("A").ID)
}

func TestEngine_MultiScopeNeverArchives(t *testing.T) {
	store := newMemoryStore(activeListing("A", "X"), activeListing("Z", "Y"))
	records := []models.PlotRecord{plot("B", "X"), plot("C", "Y")}

	out, err := NewEngine(store, nil).Run(context.Background(), records, models.MultiScope(models.SettlementsOf(records)), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Summary.Added)
	assert.Equal(t, 0, out.Summary.Archived)
	assert.Equal(t, "MULTI", out.Summary.Scope)
	assert.True(t, store.get("A").IsActive)
	assert.True(t, store.get("Z").IsActive)
}

func TestEngine_DuplicateInFile(t *testing.T) {
	store := newMemoryStore()
	first := plot("A", "X")
	first.SourceLine = 2
	second := plot("A", "X")
	second.SourceLine = 5
	second.Price = 1

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{first, second}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	require.Len(t, out.Details, 2)
	assert.Equal(t, models.DetailAdded, out.Details[0].Status)
	assert.Equal(t, models.DetailSkipped, out.Details[1].Status)
	assert.Equal(t, 5, out.Details[1].LineNumber)
	assert.Contains(t, out.Details[1].Message, "line 2")
	assert.Equal(t, int64(500000), store.get("A").Price)
	require.Len(t, out.Summary.Errors, 1)
	assert.Contains(t, out.Summary.Errors[0], "duplicate")
	assert.Equal(t, 0, out.Summary.ErrorCount)
}

func TestEngine_EmptyCadastralSkipped(t *testing.T) {
	store := newMemoryStore()

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("  ", "X")}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary.Skipped)
	assert.Equal(t, 0, store.writes)
	assert.Equal(t, 1, out.Details[0].LineNumber)
}

func TestEngine_WriteErrorsDoNotStopTheRun(t *testing.T) {
	store := newMemoryStore(activeListing("OLD", "X"))
	store.upsertErrs["A"] = errors.New("constraint violation")
	store.archiveErr = errors.New("connection reset")

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("A", "X"), plot("B", "X")}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	got := statuses(out.Details)
	assert.Equal(t, models.DetailError, got["A"])
	assert.Equal(t, models.DetailAdded, got["B"])
	assert.Equal(t, models.DetailError, got["OLD"])
	assert.Equal(t, 2, out.Summary.ErrorCount)
	assert.Len(t, out.Summary.Errors, 2)
	assert.True(t, out.Summary.Success)
}

func TestEngine_ScopeLookupFailureIsFatal(t *testing.T) {
	store := newMemoryStore()
	store.findErr = errors.New("db down")
	sink := &progress.Collector{}

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("A", "X")}, models.SingleScope("X"), sink)

	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, sink.Events())
	assert.Equal(t, 0, store.writes)
}

func TestEngine_EmptyScope(t *testing.T) {
	_, err := NewEngine(newMemoryStore(), nil).Run(context.Background(), nil, models.ImportScope{}, nil)
	assert.ErrorIs(t, err, ErrScopeRequired)
}

func TestEngine_ReactivatesArchivedListing(t *testing.T) {
	archived := activeListing("A", "X")
	archived.IsActive = false
	store := newMemoryStore(archived)

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("A", "X")}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary.Updated)
	assert.Equal(t, "changed: is_active", out.Details[0].Message)
	assert.True(t, store.get("A").IsActive)
}

func TestEngine_ListingFromAnotherSettlement(t *testing.T) {
	store := newMemoryStore(activeListing("A", "Y"))

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("A", "X")}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary.Updated)
	assert.Equal(t, "updated listing from another settlement", out.Details[0].Message)
	assert.Equal(t, "X", store.get("A").Settlement)
}

func TestEngine_OutOfScopeSecondRunIsNoOp(t *testing.T) {
	tests := []struct {
		name       string
		settlement string
	}{
		{name: "empty settlement", settlement: ""},
		{name: "settlement outside scope", settlement: "Y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			engine := NewEngine(store, nil)
			records := []models.PlotRecord{plot("C", tt.settlement)}
			ctx := context.Background()

			first, err := engine.Run(ctx, records, models.SingleScope("X"), nil)
			require.NoError(t, err)
			assert.Equal(t, 1, first.Summary.Added)
			writes := store.writes

			second, err := engine.Run(ctx, records, models.SingleScope("X"), nil)
			require.NoError(t, err)

			assert.Equal(t, writes, store.writes)
			assert.Equal(t, 0, second.Summary.Updated)
			assert.Equal(t, 1, second.Summary.Skipped)
			assert.Equal(t, "no changes", second.Details[0].Message)
		})
	}
}

func TestEngine_CatalogLookupFailure(t *testing.T) {
	store := newMemoryStore()
	store.lookupErr = errors.New("connection reset")

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("A", "X")}, models.SingleScope("X"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.DetailError, out.Details[0].Status)
	assert.Contains(t, out.Details[0].Message, "lookup failed")
	assert.Equal(t, 0, store.writes)
}

func TestEngine_TwoRowLot(t *testing.T) {
	a := plot("39:03:090913:541", "пос. Поддубное")
	a.BundleID = "lot-7"
	a.IsBundlePrimary = true
	a.Price = 1200000
	b := plot("39:03:090913:542", "пос. Поддубное")
	b.BundleID = "lot-7"
	b.Price = 0
	store := newMemoryStore()

	out, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{a, b}, models.SingleScope("пос. Поддубное"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Summary.Added)
	la, lb := store.get(a.CadastralNumber), store.get(b.CadastralNumber)
	require.NotNil(t, la.BundleID)
	require.NotNil(t, lb.BundleID)
	assert.Equal(t, *la.BundleID, *lb.BundleID)
	assert.Equal(t, StableBundleID("lot-7"), *la.BundleID)
	assert.True(t, la.IsBundlePrimary)
	assert.False(t, lb.IsBundlePrimary)
}

func TestEngine_EventStream(t *testing.T) {
	store := newMemoryStore(activeListing("A", "X"))
	sink := &progress.Collector{}

	_, err := NewEngine(store, nil).Run(context.Background(), []models.PlotRecord{plot("B", "X"), plot("C", "X")}, models.SingleScope("X"), sink)
	require.NoError(t, err)

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.KindStart, events[0].Kind)
	assert.Equal(t, 2, events[0].Total)
	last := events[len(events)-1]
	assert.Equal(t, progress.KindSummary, last.Kind)
	require.NotNil(t, last.Summary)
	assert.Equal(t, "import finished: 2 added, 0 updated, 1 archived, 0 skipped, 0 errors", last.Summary.Message)
	assert.Len(t, sink.OfKind(progress.KindDetail), 3)
	assert.Len(t, sink.OfKind(progress.KindBatch), 2)
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
	}
}
