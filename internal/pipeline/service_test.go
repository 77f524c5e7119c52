package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/embedding"
	"github.com/btighe428/cityping-sub002/internal/globaltime"
)

type writtenEmbedding struct {
	class      content.Class
	id         string
	vector     []float64
	model      string
	embeddedAt time.Time
}

type fakeStore struct {
	mu         sync.Mutex
	pending    map[content.Class][]db.PendingRow
	selectErr  map[content.Class]error
	writeErr   map[string]error
	skipErr    map[string]error
	written    []writtenEmbedding
	skipped    map[string]string
	done       map[string]bool
	limits     map[content.Class]int
	neighbors  []db.Neighbor
	nnCalls    []float64
	candidates []content.Item
	since      time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending:   map[content.Class][]db.PendingRow{},
		selectErr: map[content.Class]error{},
		writeErr:  map[string]error{},
		skipErr:   map[string]error{},
		skipped:   map[string]string{},
		done:      map[string]bool{},
		limits:    map[content.Class]int{},
	}
}

func (f *fakeStore) SelectUnembedded(_ context.Context, class content.Class, limit int) ([]db.PendingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[class] = limit
	if err := f.selectErr[class]; err != nil {
		return nil, err
	}
	rows := make([]db.PendingRow, 0, limit)
	for _, row := range f.pending[class] {
		if !f.done[row.ID] && len(rows) < limit {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeStore) WriteEmbedding(_ context.Context, class content.Class, id string, vec []float64, model string, embeddedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr[id]; err != nil {
		return err
	}
	f.written = append(f.written, writtenEmbedding{class: class, id: id, vector: vec, model: model, embeddedAt: embeddedAt})
	f.done[id] = true
	return nil
}

func (f *fakeStore) MarkSkipped(_ context.Context, _ content.Class, id, reason string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.skipErr[id]; err != nil {
		return err
	}
	f.skipped[id] = reason
	f.done[id] = true
	return nil
}

func (f *fakeStore) NearestNeighbors(_ context.Context, _ content.Class, _ []float64, limit int, maxDistance float64) ([]db.Neighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nnCalls = append(f.nnCalls, maxDistance)
	out := make([]db.Neighbor, 0, limit)
	for _, n := range f.neighbors {
		if n.Distance <= maxDistance && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) LoadCandidates(_ context.Context, _ content.Class, since time.Time, _ int) ([]content.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.candidates, nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	maxBatch int
	failOn   string
	err      error
	batches  [][]string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	for _, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, 0, f.err
		}
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = []float64{float64(len(text)), 1}
	}
	return vectors, 10 * len(texts), nil
}

func (f *fakeEmbedder) EstimateCost(tokens int) float64 {
	return float64(tokens) * 0.001
}

func (f *fakeEmbedder) MaxBatchSize() int {
	return f.maxBatch
}

func (f *fakeEmbedder) ModelName() string {
	return "fake/model-1"
}

func newTestService(store Store, embedder Embedder) *Service {
	return NewService(store, embedder, DefaultOptions(), zerolog.Nop())
}

func TestProcessUnembeddedEmbedsBothClasses(t *testing.T) {
	store := newFakeStore()
	store.pending[content.ClassArticles] = []db.PendingRow{
		{ID: "a1", Title: "Subway delays", Body: "Signal   problems\non the L", Source: "MTA"},
		{ID: "a2", Title: "Parks reopen", Source: "NYC Parks"},
	}
	store.pending[content.ClassAlerts] = []db.PendingRow{
		{ID: "al1", Title: "Heat advisory", Body: "Stay hydrated", Source: "NWS"},
	}
	embedder := &fakeEmbedder{maxBatch: 50}

	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(now)
	defer globaltime.ResetTime()

	result, err := newTestService(store, embedder).ProcessUnembedded(context.Background(), 10)
	if err != nil {
		t.Fatalf("process unembedded: %v", err)
	}
	if result.ArticlesProcessed != 2 || result.AlertsProcessed != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.TotalTokens != 30 {
		t.Fatalf("expected 30 tokens, got %d", result.TotalTokens)
	}
	if math.Abs(result.EstimatedCost-0.03) > 1e-12 {
		t.Fatalf("expected estimated cost 0.03, got %f", result.EstimatedCost)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if _, err := uuid.Parse(result.RunID); err != nil {
		t.Fatalf("expected a uuid run id, got %q", result.RunID)
	}
	if store.limits[content.ClassArticles] != 10 || store.limits[content.ClassAlerts] != 10 {
		t.Fatalf("expected batch size to bound both selects, got %v", store.limits)
	}
	if len(store.written) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(store.written))
	}
	for _, w := range store.written {
		if w.model != "fake/model-1" || !w.embeddedAt.Equal(now) {
			t.Fatalf("unexpected write metadata: %+v", w)
		}
	}
}

func TestProcessUnembeddedIsolatesClassFailures(t *testing.T) {
	store := newFakeStore()
	store.pending[content.ClassArticles] = []db.PendingRow{{ID: "a1", Title: "Bridge closed", Source: "DOT"}}
	store.pending[content.ClassAlerts] = []db.PendingRow{{ID: "al1", Title: "Flood warning", Source: "NWS"}}
	embedder := &fakeEmbedder{
		maxBatch: 50,
		failOn:   "Flood",
		err:      &embedding.ProviderError{Kind: embedding.KindTransient, Provider: "fake", StatusCode: 429},
	}

	result, err := newTestService(store, embedder).ProcessUnembedded(context.Background(), 5)
	if err != nil {
		t.Fatalf("process unembedded: %v", err)
	}
	if result.ArticlesProcessed != 1 || result.AlertsProcessed != 0 {
		t.Fatalf("expected articles to succeed despite alerts failing, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "alerts: embed batch") {
		t.Fatalf("expected one alerts error, got %v", result.Errors)
	}
}

func TestProcessUnembeddedRecordsSelectAndWriteFailures(t *testing.T) {
	store := newFakeStore()
	store.selectErr[content.ClassAlerts] = errors.New("connection refused")
	store.pending[content.ClassArticles] = []db.PendingRow{
		{ID: "a1", Title: "One", Source: "X"},
		{ID: "a2", Title: "Two", Source: "X"},
		{ID: "a3", Title: "   ", Body: " ", Source: "X"},
	}
	store.writeErr["a1"] = errors.New("deadlock detected")

	result, err := newTestService(store, &fakeEmbedder{maxBatch: 50}).ProcessUnembedded(context.Background(), 5)
	if err != nil {
		t.Fatalf("process unembedded: %v", err)
	}
	if result.ArticlesProcessed != 1 || result.Skipped != 1 {
		t.Fatalf("expected only a2 to be written and a3 skipped, got %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected write and select errors, got %v", result.Errors)
	}
	if store.skipped["a3"] != skipReasonEmpty {
		t.Fatalf("expected a3 marked skipped, got %v", store.skipped)
	}
}

func TestProcessUnembeddedMovesPastRowsWithNoText(t *testing.T) {
	store := newFakeStore()
	store.pending[content.ClassArticles] = []db.PendingRow{
		{ID: "blank1", Title: "  ", Source: "X"},
		{ID: "blank2", Body: "\n\t", Source: "X"},
		{ID: "real", Title: "Ferry service resumes", Source: "NYC Ferry"},
	}
	svc := newTestService(store, &fakeEmbedder{maxBatch: 50})

	first, err := svc.ProcessUnembedded(context.Background(), 2)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Skipped != 2 || first.ArticlesProcessed != 0 || len(first.Errors) != 0 {
		t.Fatalf("expected both blank rows skipped on the first run, got %+v", first)
	}

	second, err := svc.ProcessUnembedded(context.Background(), 2)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ArticlesProcessed != 1 || second.Skipped != 0 {
		t.Fatalf("expected real row embedded on the second run, got %+v", second)
	}
	if len(store.written) != 1 || store.written[0].id != "real" {
		t.Fatalf("unexpected writes: %+v", store.written)
	}
}

func TestProcessUnembeddedReportsUnmarkableBlankRows(t *testing.T) {
	store := newFakeStore()
	store.pending[content.ClassAlerts] = []db.PendingRow{{ID: "al-blank", Source: "NWS"}}
	store.skipErr["al-blank"] = errors.New("connection reset")

	result, err := newTestService(store, &fakeEmbedder{maxBatch: 50}).ProcessUnembedded(context.Background(), 5)
	if err != nil {
		t.Fatalf("process unembedded: %v", err)
	}
	if result.Skipped != 0 || len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "could not be marked skipped") {
		t.Fatalf("expected mark failure reported, got %+v", result)
	}
}

func TestProcessUnembeddedReturnsProviderAuthFailure(t *testing.T) {
	store := newFakeStore()
	store.pending[content.ClassArticles] = []db.PendingRow{{ID: "a1", Title: "Bridge closed", Source: "DOT"}}
	store.pending[content.ClassAlerts] = []db.PendingRow{{ID: "al1", Title: "Flood warning", Source: "NWS"}}
	embedder := &fakeEmbedder{
		maxBatch: 50,
		failOn:   "Flood",
		err:      &embedding.ProviderError{Kind: embedding.KindAuth, Provider: "fake", StatusCode: 401},
	}

	result, err := newTestService(store, embedder).ProcessUnembedded(context.Background(), 5)
	if !errors.Is(err, embedding.ErrProviderAuth) {
		t.Fatalf("expected auth failure to reach the caller, got %v", err)
	}
	if embedding.Retryable(err) {
		t.Fatalf("auth failure must not be retryable")
	}
	if result.ArticlesProcessed != 1 || len(result.Errors) != 1 || result.RunID == "" {
		t.Fatalf("expected the partial result alongside the error, got %+v", result)
	}
}

func TestProcessUnembeddedRejectsInvalidBatchSizeBeforeIO(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store, &fakeEmbedder{maxBatch: 5})
	for _, size := range []int{0, -1, 6} {
		_, err := svc.ProcessUnembedded(context.Background(), size)
		if !errors.Is(err, embedding.ErrInvalidArgument) {
			t.Fatalf("batch size %d: expected ErrInvalidArgument, got %v", size, err)
		}
	}
	if len(store.limits) != 0 {
		t.Fatalf("expected no store access, got %v", store.limits)
	}
}

func TestEmbeddingInputIsStable(t *testing.T) {
	t.Parallel()

	row := db.PendingRow{Title: "  Subway\tdelays ", Body: "Signal\n\nproblems", Source: " MTA "}
	want := "Subway delays\n\nSignal problems\n\nSource: MTA"
	if got := embeddingInput(row); got != want {
		t.Fatalf("unexpected input %q", got)
	}
	if got := embeddingInput(db.PendingRow{Title: "Only title"}); got != "Only title" {
		t.Fatalf("unexpected title-only input %q", got)
	}
	if got := embeddingInput(db.PendingRow{Source: "MTA"}); got != "" {
		t.Fatalf("expected empty input without title or body, got %q", got)
	}
}

func TestFindSimilarTranslatesThresholdToDistance(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.neighbors = []db.Neighbor{
		{ID: "n1", Title: "Closest", Distance: 0.05},
		{ID: "n2", Title: "Close", Distance: 0.15},
		{ID: "n3", Title: "Far", Distance: 0.4},
	}
	svc := newTestService(store, nil)

	items, err := svc.FindSimilar(context.Background(), []float64{1, 0}, 10, 0.8)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if math.Abs(store.nnCalls[0]-0.2) > 1e-12 {
		t.Fatalf("expected max distance 0.2, got %f", store.nnCalls[0])
	}
	if len(items) != 2 || items[0].ID != "n1" || math.Abs(items[0].Similarity-0.95) > 1e-12 {
		t.Fatalf("unexpected similar items: %+v", items)
	}

	if _, err := svc.FindSimilar(context.Background(), nil, 10, 0.8); !errors.Is(err, embedding.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty vector, got %v", err)
	}
	if _, err := svc.FindSimilar(context.Background(), []float64{1}, 0, 0.8); !errors.Is(err, embedding.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero limit, got %v", err)
	}
	if _, err := svc.FindSimilar(context.Background(), []float64{1}, 5, 1.5); !errors.Is(err, embedding.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for threshold, got %v", err)
	}
}

func TestCurateDedupsThenClusters(t *testing.T) {
	store := newFakeStore()
	store.candidates = []content.Item{
		{ID: "s1", Title: "Subway Delays on the L Train", Embedding: []float64{1, 0.05}, Score: 0.9},
		{ID: "s2", Title: "Subway Delays on the L Train", Embedding: []float64{1, 0.05}, Score: 0.5},
		{ID: "s3", Title: "Signal failure strands riders", Embedding: []float64{1, 0.5}, Score: 0.7},
		{ID: "m1", Title: "Mayor holds press conference", Embedding: []float64{0.05, 1}, Score: 0.8},
		{ID: "x1", Title: "Street fair this weekend", Score: 0.3},
	}

	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(now)
	defer globaltime.ResetTime()

	result, err := newTestService(store, nil).Curate(context.Background(), CurateOptions{Lookback: 24 * time.Hour})
	if err != nil {
		t.Fatalf("curate: %v", err)
	}
	if !store.since.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected lookback cutoff %s", store.since)
	}
	if result.Class != content.ClassArticles || result.Candidates != 5 {
		t.Fatalf("unexpected result header: %+v", result)
	}
	if result.Dedup.Stats.Lexical != 1 || result.Dedup.Stats.Unique != 4 {
		t.Fatalf("unexpected dedup stats: %+v", result.Dedup.Stats)
	}
	if len(result.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %+v", result.Clusters)
	}
	if len(result.Unclustered) != 1 || result.Unclustered[0] != "x1" {
		t.Fatalf("expected x1 to be unclustered, got %v", result.Unclustered)
	}
}

func TestEmbedTextCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{maxBatch: 10}
	svc := newTestService(newFakeStore(), embedder)

	vec, tokens, err := svc.EmbedText(context.Background(), "  subway \n delays  ")
	if err != nil {
		t.Fatalf("embed text: %v", err)
	}
	if tokens != 10 || len(vec) != 2 || vec[0] != float64(len("subway delays")) {
		t.Fatalf("unexpected embedding %v tokens=%d", vec, tokens)
	}
	if len(embedder.batches) != 1 || embedder.batches[0][0] != "subway delays" {
		t.Fatalf("unexpected batches: %#v", embedder.batches)
	}

	if _, _, err := svc.EmbedText(context.Background(), " \t "); !errors.Is(err, embedding.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank text, got %v", err)
	}
}
