package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/botradar/bot_radar/pkg/classifier"
	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/model"
)

const (
	loremBody  = "lorem ipsum lorem ipsum lorem ipsum"
	humanBody  = "I walked down to the old harbor this morning and watched the fishing boats come in, their decks piled with silver mackerel while gulls wheeled overhead, crying into the cold salt wind that blew off the grey water."
	borderBody = "good good nice nice product very good nice buy now good deal nice"
)

// mockStore is an in-memory queue store with a CAS claim.
type mockStore struct {
	mu       sync.Mutex
	requests map[string]*model.AnalysisRequest
	results  []*model.AnalysisResult
	doneIDs  []string
	errors   map[string]string
}

func newMockStore(reqs ...*model.AnalysisRequest) *mockStore {
	s := &mockStore{
		requests: make(map[string]*model.AnalysisRequest),
		errors:   make(map[string]string),
	}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return s
}

func (s *mockStore) GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *mockStore) ClaimRequest(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != model.StatusQueued {
		return false, nil
	}
	r.Status = model.StatusFetching
	return true, nil
}

func (s *mockStore) MarkDone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[id].Status = model.StatusDone
	s.doneIDs = append(s.doneIDs, id)
	return nil
}

func (s *mockStore) MarkError(ctx context.Context, id string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[id].Status = model.StatusError
	s.errors[id] = msg
	return nil
}

func (s *mockStore) SaveResult(ctx context.Context, res *model.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

// mockSource serves fixed items.
type mockSource struct {
	items   []*model.ContentItem
	err     error
	parents map[string]*model.ContentItem
}

func (m *mockSource) FetchUserItems(ctx context.Context, userID string, limit int) ([]*model.ContentItem, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.items) > limit {
		return m.items[:limit], nil
	}
	return m.items, nil
}

func (m *mockSource) FetchParent(ctx context.Context, itemID string) (*model.ContentItem, error) {
	return m.parents[itemID], nil
}

// mockClassifier answers through a hook and records its inputs.
type mockClassifier struct {
	mu     sync.Mutex
	calls  [][]classifier.Input
	answer func(in classifier.Input) []classifier.Result
}

func (m *mockClassifier) ClassifyBatch(ctx context.Context, inputs []classifier.Input) []classifier.ItemResult {
	m.mu.Lock()
	m.calls = append(m.calls, inputs)
	m.mu.Unlock()

	out := make([]classifier.ItemResult, len(inputs))
	for i, in := range inputs {
		out[i] = classifier.ItemResult{ItemID: in.ID, Results: m.answer(in)}
	}
	return out
}

type mockResolver struct {
	text string
	ok   bool
}

func (m *mockResolver) ResolveParentText(ctx context.Context, item *model.ContentItem) (string, bool) {
	return m.text, m.ok
}

func testConfig() *config.Config {
	var c config.Config
	c.ApplyDefaults()
	return &c
}

func queuedRequest(id string, includeParent bool) *model.AnalysisRequest {
	return &model.AnalysisRequest{
		ID:            id,
		Platform:      "reddit",
		UserID:        "suspect",
		MaxItems:      50,
		IncludeParent: includeParent,
		Status:        model.StatusQueued,
	}
}

func threeItems() []*model.ContentItem {
	return []*model.ContentItem{
		{ID: "t1_x", Body: loremBody},
		{ID: "t1_y", Body: humanBody},
		{ID: "t1_z", Body: borderBody},
	}
}

func TestProcessCascadeWorkedExample(t *testing.T) {
	store := newMockStore(queuedRequest("req1", false))
	src := &mockSource{items: threeItems()}
	cls := &mockClassifier{answer: func(in classifier.Input) []classifier.Result {
		return []classifier.Result{{Model: "detector", Score: 0.8, Confidence: 0.9}}
	}}
	e := NewEngine(testConfig(), store, src, cls, &mockResolver{})

	if err := e.Process(context.Background(), "req1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if store.requests["req1"].Status != model.StatusDone {
		t.Errorf("status = %v, want done", store.requests["req1"].Status)
	}
	if len(store.results) != 1 {
		t.Fatalf("results written = %d, want 1", len(store.results))
	}

	res := store.results[0]
	if res.AnalyzedCount != 3 || res.TotalCount != 3 {
		t.Errorf("counts = %d/%d, want 3/3", res.AnalyzedCount, res.TotalCount)
	}
	if res.StageCounts[model.StageEntropy] != 2 {
		t.Errorf("entropy-only count = %d, want 2", res.StageCounts[model.StageEntropy])
	}
	if res.StageCounts[model.StageClassified] != 1 {
		t.Errorf("classified count = %d, want 1", res.StageCounts[model.StageClassified])
	}

	// only the borderline item may cost remote calls
	if len(cls.calls) != 1 || len(cls.calls[0]) != 1 || cls.calls[0][0].ID != "t1_z" {
		t.Errorf("classifier calls = %+v, want exactly t1_z", cls.calls)
	}

	var xScore, yScore float64
	for _, it := range res.Items {
		switch it.ItemID {
		case "t1_x":
			xScore = it.CompositeScore
			if it.CompositeScore <= 0.8 {
				t.Errorf("repetitive item score = %v, want > 0.8", it.CompositeScore)
			}
		case "t1_y":
			yScore = it.CompositeScore
			if it.CompositeScore >= 0.2 {
				t.Errorf("human item score = %v, want < 0.2", it.CompositeScore)
			}
		case "t1_z":
			if it.Stage != model.StageClassified {
				t.Errorf("borderline item stage = %v, want classified", it.Stage)
			}
		}
	}
	if res.UserScore <= yScore || res.UserScore >= xScore {
		t.Errorf("UserScore = %v, want between %v and %v", res.UserScore, yScore, xScore)
	}
	if res.UserScore < 0 || res.UserScore > 1 || res.OverallConfidence < 0 || res.OverallConfidence > 1 {
		t.Errorf("bounds violated: score %v confidence %v", res.UserScore, res.OverallConfidence)
	}
	if res.Method != Method {
		t.Errorf("method = %q", res.Method)
	}
}

func TestProcessClassifierFailureFallsBackToEntropy(t *testing.T) {
	store := newMockStore(queuedRequest("req1", false))
	src := &mockSource{items: threeItems()}
	cls := &mockClassifier{answer: func(in classifier.Input) []classifier.Result {
		return []classifier.Result{{Model: "detector", Score: 0, Confidence: 0, Err: errors.New("timeout after retries")}}
	}}
	e := NewEngine(testConfig(), store, src, cls, &mockResolver{})

	if err := e.Process(context.Background(), "req1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	res := store.results[0]
	for _, it := range res.Items {
		if it.ItemID != "t1_z" {
			continue
		}
		if it.Stage != model.StageClassified {
			t.Errorf("stage = %v, want classified despite failure", it.Stage)
		}
		if it.Confidence != 0 {
			t.Errorf("confidence = %v, want 0", it.Confidence)
		}
		// composite falls back to the entropy value: the zero-confidence
		// remote signal is gated out
		entropyScore := it.Signals[model.SignalEntropy].Score
		if it.CompositeScore != entropyScore {
			t.Errorf("composite = %v, want entropy fallback %v", it.CompositeScore, entropyScore)
		}
		if !it.Inconclusive {
			t.Error("item should remain inconclusive")
		}
	}
}

func TestProcessContextPassPromotes(t *testing.T) {
	store := newMockStore(queuedRequest("req1", true))
	src := &mockSource{items: threeItems()}

	cls := &mockClassifier{answer: func(in classifier.Input) []classifier.Result {
		if strings.Contains(in.Text, "thread context") {
			// the enriched call is decisive
			return []classifier.Result{{Model: "detector", Score: 0.9, Confidence: 0.85}}
		}
		// the plain call stays ambiguous
		return []classifier.Result{{Model: "detector", Score: 0.55, Confidence: 0.1}}
	}}
	e := NewEngine(testConfig(), store, src, cls, &mockResolver{text: "thread context", ok: true})

	if err := e.Process(context.Background(), "req1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	res := store.results[0]
	for _, it := range res.Items {
		if it.ItemID != "t1_z" {
			continue
		}
		if it.Stage != model.StageContext {
			t.Errorf("stage = %v, want context", it.Stage)
		}
		if !it.UsedParentContext {
			t.Error("UsedParentContext = false, want true")
		}
		if it.Inconclusive {
			t.Error("item should be conclusive after enrichment")
		}
	}
	if res.StageCounts[model.StageContext] != 1 {
		t.Errorf("context count = %d, want 1", res.StageCounts[model.StageContext])
	}
	if len(cls.calls) != 2 {
		t.Errorf("classifier batches = %d, want 2", len(cls.calls))
	}
}

func TestProcessContextAbsentLeavesClassified(t *testing.T) {
	store := newMockStore(queuedRequest("req1", true))
	src := &mockSource{items: threeItems()}
	cls := &mockClassifier{answer: func(in classifier.Input) []classifier.Result {
		return []classifier.Result{{Model: "detector", Score: 0.55, Confidence: 0.1}}
	}}
	e := NewEngine(testConfig(), store, src, cls, &mockResolver{ok: false})

	if err := e.Process(context.Background(), "req1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for _, it := range store.results[0].Items {
		if it.ItemID == "t1_z" && it.Stage != model.StageClassified {
			t.Errorf("stage = %v, want classified when no context resolves", it.Stage)
		}
		if it.UsedParentContext {
			t.Error("UsedParentContext = true without context")
		}
	}
}

func TestProcessConcurrentInvocationsWriteOnce(t *testing.T) {
	store := newMockStore(queuedRequest("req1", false))
	src := &mockSource{items: threeItems()}
	cls := &mockClassifier{answer: func(in classifier.Input) []classifier.Result {
		return []classifier.Result{{Model: "detector", Score: 0.8, Confidence: 0.9}}
	}}
	e := NewEngine(testConfig(), store, src, cls, &mockResolver{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Process(context.Background(), "req1"); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if len(store.results) != 1 {
		t.Errorf("results written = %d, want exactly 1", len(store.results))
	}
	if len(store.doneIDs) != 1 {
		t.Errorf("done transitions = %d, want exactly 1", len(store.doneIDs))
	}
}

func TestProcessNoQualifyingItemsIsTerminalError(t *testing.T) {
	store := newMockStore(queuedRequest("req1", false))
	src := &mockSource{items: []*model.ContentItem{{ID: "t1_a", Body: "short"}}}
	e := NewEngine(testConfig(), store, src, &mockClassifier{answer: func(classifier.Input) []classifier.Result { return nil }}, &mockResolver{})

	if err := e.Process(context.Background(), "req1"); err == nil {
		t.Fatal("Process() error = nil, want terminal error")
	}
	if store.requests["req1"].Status != model.StatusError {
		t.Errorf("status = %v, want error", store.requests["req1"].Status)
	}
	if store.errors["req1"] == "" {
		t.Error("error message not recorded")
	}
	if len(store.results) != 0 {
		t.Error("partial result persisted on failure")
	}
}

func TestProcessFetchFailureIsTerminalError(t *testing.T) {
	store := newMockStore(queuedRequest("req1", false))
	src := &mockSource{err: errors.New("reddit unreachable")}
	e := NewEngine(testConfig(), store, src, &mockClassifier{answer: func(classifier.Input) []classifier.Result { return nil }}, &mockResolver{})

	if err := e.Process(context.Background(), "req1"); err == nil {
		t.Fatal("Process() error = nil, want fetch error")
	}
	if store.requests["req1"].Status != model.StatusError {
		t.Errorf("status = %v, want error", store.requests["req1"].Status)
	}
	if !strings.Contains(store.errors["req1"], "reddit unreachable") {
		t.Errorf("errorMessage = %q", store.errors["req1"])
	}
}

func TestProcessMissingRequest(t *testing.T) {
	store := newMockStore()
	e := NewEngine(testConfig(), store, &mockSource{}, &mockClassifier{answer: func(classifier.Input) []classifier.Result { return nil }}, &mockResolver{})

	if err := e.Process(context.Background(), "ghost"); err == nil {
		t.Fatal("Process() error = nil, want not-found error")
	}
}

func TestProcessAlreadyClaimedIsNoOp(t *testing.T) {
	req := queuedRequest("req1", false)
	req.Status = model.StatusDone
	store := newMockStore(req)
	src := &mockSource{err: errors.New("must not be called")}
	e := NewEngine(testConfig(), store, src, &mockClassifier{answer: func(classifier.Input) []classifier.Result { return nil }}, &mockResolver{})

	if err := e.Process(context.Background(), "req1"); err != nil {
		t.Fatalf("Process() error = %v, want nil no-op", err)
	}
	if store.requests["req1"].Status != model.StatusDone {
		t.Error("terminal status disturbed by duplicate invocation")
	}
}

// panicSource blows up mid-fetch to exercise the top-level recovery.
type panicSource struct{}

func (panicSource) FetchUserItems(ctx context.Context, userID string, limit int) ([]*model.ContentItem, error) {
	panic("index out of range")
}

func (panicSource) FetchParent(ctx context.Context, itemID string) (*model.ContentItem, error) {
	return nil, nil
}

func TestProcessRecoversPanicsIntoErrorStatus(t *testing.T) {
	store := newMockStore(queuedRequest("req1", false))
	e := NewEngine(testConfig(), store, panicSource{}, &mockClassifier{answer: func(classifier.Input) []classifier.Result { return nil }}, &mockResolver{})

	if err := e.Process(context.Background(), "req1"); err == nil {
		t.Fatal("Process() error = nil, want recovered panic")
	}
	if store.requests["req1"].Status != model.StatusError {
		t.Errorf("status = %v, want error", store.requests["req1"].Status)
	}
	if !strings.Contains(store.errors["req1"], "panic") {
		t.Errorf("errorMessage = %q, want panic recorded", store.errors["req1"])
	}
}
