package model

import "time"

// RequestStatus is the lifecycle state of an AnalysisRequest. Transitions are
// monotonic: queued -> fetching -> done|error, never reverted.
type RequestStatus string

const (
	StatusQueued   RequestStatus = "queued"
	StatusFetching RequestStatus = "fetching"
	StatusScoring  RequestStatus = "scoring"
	StatusDone     RequestStatus = "done"
	StatusError    RequestStatus = "error"
)

// Stage is how far an item travelled through the cascade. Only advances
// forward: entropy -> classified -> context.
type Stage string

const (
	StageEntropy    Stage = "entropy"
	StageClassified Stage = "classified"
	StageContext    Stage = "context"
)

// rank orders stages so promotions can be checked.
var stageRank = map[Stage]int{
	StageEntropy:    0,
	StageClassified: 1,
	StageContext:    2,
}

// After reports whether s is a strictly later stage than other.
func (s Stage) After(other Stage) bool {
	return stageRank[s] > stageRank[other]
}

// Band is the entropy screen verdict.
type Band string

const (
	BandBot          Band = "bot"
	BandHuman        Band = "human"
	BandInconclusive Band = "inconclusive"
)

// ConfidenceLevel is the coarse certainty of the entropy screen.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// AnalysisRequest is one user-analysis job held in the queue store.
type AnalysisRequest struct {
	ID            string        `json:"id"`
	Platform      string        `json:"platform"`
	UserID        string        `json:"user_id"`
	MaxItems      int           `json:"max_items"` // capped at 100
	IncludeParent bool          `json:"include_parent"`
	Status        RequestStatus `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ContentItem is one text unit (comment or post) by the target user. Fetched
// fresh per request, never persisted on its own.
type ContentItem struct {
	ID        string // platform fullname, e.g. t1_abc123
	Body      string
	ParentID  string // empty for top-level posts
	Subreddit string
	URL       string // outbound link for link posts, empty otherwise
	Permalink string
	Score     int
	CreatedAt time.Time
	IsPost    bool // top-level post rather than comment
}

// Signal is one scored opinion about an item from a single source (the
// entropy screen or one classifier model). Absence of a signal is represented
// by absence from PerItemSummary.Signals, never by a zero value.
type Signal struct {
	Score      float64 `json:"score"`      // 0..1, higher = more bot-like
	Confidence float64 `json:"confidence"` // 0..1
}

// SignalEntropy is the signal key for the local entropy screen. Remote
// signals are keyed by model identifier.
const SignalEntropy = "entropy"

// PerItemSummary is the scoring record for one ContentItem within one
// request. Mutated in place as the item moves through the cascade.
type PerItemSummary struct {
	ItemID            string            `json:"item_id"`
	CompositeScore    float64           `json:"composite_score"`
	TextLen           int               `json:"text_len"`
	Stage             Stage             `json:"stage"`
	EntropyBand       Band              `json:"entropy_band"`
	Signals           map[string]Signal `json:"signals"`
	Confidence        float64           `json:"confidence"`
	UsedParentContext bool              `json:"used_parent_context"`
	Inconclusive      bool              `json:"inconclusive"`
}

// Promote advances the item's stage, never regressing it.
func (p *PerItemSummary) Promote(s Stage) {
	if s.After(p.Stage) {
		p.Stage = s
	}
}

// AnalysisResult is the aggregate outcome for one request. Written at most
// once, after the orchestrator reaches terminal success; immutable after.
type AnalysisResult struct {
	RequestID         string             `json:"request_id"`
	Platform          string             `json:"platform"`
	UserID            string             `json:"user_id"`
	UserScore         float64            `json:"user_score"` // 0..1
	AnalyzedCount     int                `json:"analyzed_count"`
	TotalCount        int                `json:"total_count"`
	Items             []*PerItemSummary  `json:"items"`
	Method            string             `json:"method"`
	StageCounts       map[Stage]int      `json:"stage_counts"`
	SignalAverages    map[string]float64 `json:"signal_averages"`
	OverallConfidence float64            `json:"overall_confidence"`
	CreatedAt         time.Time          `json:"created_at"`
}
