package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/botradar/bot_radar/pkg/config"
)

func fastTransport(maxRetries int) *transport {
	tr := newTransport(5*time.Second, maxRetries, rate.NewLimiter(rate.Inf, 1))
	tr.baseDelay = time.Millisecond
	return tr
}

func TestLabelClassifierScoreDerivation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[{"label": "Fake", "score": 0.9}, {"label": "Real", "score": 0.1}]]`)
	}))
	defer srv.Close()

	lc := newLabelClassifier("openai-community/roberta-base-openai-detector",
		config.ClassifierConfig{BaseURL: srv.URL}, defaultPatterns["openai-community/roberta-base-openai-detector"], fastTransport(2))

	score, conf, err := lc.Score(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if score != 0.9 {
		t.Errorf("score = %v, want 0.9 (AI beats human)", score)
	}
	if diff := conf - 0.8; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", conf)
	}
}

func TestLabelClassifierHumanDominates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"label": "Real", "score": 0.8}, {"label": "Fake", "score": 0.2}]`)
	}))
	defer srv.Close()

	lc := newLabelClassifier("openai-community/roberta-base-openai-detector",
		config.ClassifierConfig{BaseURL: srv.URL}, defaultPatterns["openai-community/roberta-base-openai-detector"], fastTransport(2))

	score, _, err := lc.Score(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	// 1 - humanProb
	if diff := score - 0.2; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("score = %v, want 0.2", score)
	}
}

func TestTransportRetriesOn429ThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[[{"label": "Fake", "score": 0.7}, {"label": "Real", "score": 0.3}]]`)
	}))
	defer srv.Close()

	lc := newLabelClassifier("openai-community/roberta-base-openai-detector",
		config.ClassifierConfig{BaseURL: srv.URL}, defaultPatterns["openai-community/roberta-base-openai-detector"], fastTransport(3))

	score, _, err := lc.Score(context.Background(), "x")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
	if score != 0.7 {
		t.Errorf("score = %v, want 0.7", score)
	}
}

func TestTransportFailsAfterRetryCeiling(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := fastTransport(2)
	_, err := tr.postJSON(context.Background(), srv.URL, nil, inferenceRequest{Inputs: "x"})
	if err == nil {
		t.Fatal("postJSON() error = nil, want retries exhausted")
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3 (1 + 2 retries)", hits)
	}
}

func TestTransportFailsImmediatelyOnClientError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "bad input"}`)
	}))
	defer srv.Close()

	tr := fastTransport(3)
	_, err := tr.postJSON(context.Background(), srv.URL, nil, inferenceRequest{Inputs: "x"})
	if err == nil {
		t.Fatal("postJSON() error = nil, want immediate failure")
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (no retry on 400)", hits)
	}
}

// fakeScorer drives ClassifyBatch in tests.
type fakeScorer struct {
	model string
	score float64
	conf  float64
	err   error
}

func (f *fakeScorer) Model() string { return f.model }

func (f *fakeScorer) Score(ctx context.Context, text string) (float64, float64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.score, f.conf, nil
}

func TestClassifyBatchIsolatesFailures(t *testing.T) {
	good := &fakeScorer{model: "good-model", score: 0.85, conf: 0.7}
	failing := &fakeScorer{model: "bad-model", err: errors.New("boom")}
	c := newClientWithScorers([]modelScorer{good, failing}, 4)

	results := c.ClassifyBatch(context.Background(), []Input{
		{ID: "t1_a", Text: "first"},
		{ID: "t1_b", Text: "second"},
	})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	for _, ir := range results {
		if len(ir.Results) != 2 {
			t.Fatalf("item %s got %d results, want 2", ir.ItemID, len(ir.Results))
		}
		if !ir.Succeeded() {
			t.Errorf("item %s should have one successful result", ir.ItemID)
		}
		for _, r := range ir.Results {
			switch r.Model {
			case "good-model":
				if r.Err != nil || r.Score != 0.85 {
					t.Errorf("good result corrupted by sibling failure: %+v", r)
				}
			case "bad-model":
				if r.Err == nil || r.Score != 0 || r.Confidence != 0 {
					t.Errorf("failed result should be neutral: %+v", r)
				}
			}
		}
	}
}

func TestClassifyBatchAllFailedIsNotSucceeded(t *testing.T) {
	failing := &fakeScorer{model: "m", err: errors.New("down")}
	c := newClientWithScorers([]modelScorer{failing}, 2)

	results := c.ClassifyBatch(context.Background(), []Input{{ID: "t1_z", Text: "x"}})
	if results[0].Succeeded() {
		t.Error("Succeeded() = true with every model failed")
	}
}

func TestParseLabelScoresShapes(t *testing.T) {
	nested, err := parseLabelScores([]byte(`[[{"label": "Fake", "score": 0.6}]]`))
	if err != nil || len(nested) != 1 || nested[0].Label != "Fake" {
		t.Errorf("nested parse = %v, %v", nested, err)
	}

	flat, err := parseLabelScores([]byte(`[{"label": "Real", "score": 0.4}]`))
	if err != nil || len(flat) != 1 || flat[0].Label != "Real" {
		t.Errorf("flat parse = %v, %v", flat, err)
	}

	if _, err := parseLabelScores([]byte(`{"error": "loading"}`)); err == nil {
		t.Error("expected error for unrecognized shape")
	}
}

func TestLexicalOverlap(t *testing.T) {
	if got := lexicalOverlap("buy now great deal", "buy now great deal buy now"); got != 1.0 {
		t.Errorf("full overlap = %v, want 1.0", got)
	}
	if got := lexicalOverlap("completely original phrasing here", "nothing matches whatsoever"); got != 0 {
		t.Errorf("no overlap = %v, want 0", got)
	}
}
