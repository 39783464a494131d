// Package storage persists analysis requests and results in Postgres. The
// request table doubles as the durable work queue: claiming a request is a
// single compare-and-set UPDATE, which makes concurrent poller and trigger
// invocations safe.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/model"
)

type Storage struct {
	db *sql.DB
}

func NewStorage(cfg config.DBConfig) (*Storage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS analysis_requests (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			user_id TEXT NOT NULL,
			max_items INTEGER NOT NULL DEFAULT 50,
			include_parent BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'queued',
			error_message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON analysis_requests (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS analysis_results (
			id SERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE REFERENCES analysis_requests(id),
			platform TEXT,
			user_id TEXT,
			user_score DOUBLE PRECISION,
			analyzed_count INTEGER,
			total_count INTEGER,
			method TEXT,
			overall_confidence DOUBLE PRECISION,
			entropy_count INTEGER,
			classified_count INTEGER,
			context_count INTEGER,
			signal_averages TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS result_items (
			id SERIAL PRIMARY KEY,
			result_id INTEGER REFERENCES analysis_results(id),
			item_id TEXT,
			composite_score DOUBLE PRECISION,
			text_len INTEGER,
			stage TEXT,
			confidence DOUBLE PRECISION,
			used_parent_context BOOLEAN,
			inconclusive BOOLEAN,
			signals TEXT
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// CreateRequest enqueues a new request and returns its id.
func (s *Storage) CreateRequest(ctx context.Context, req *model.AnalysisRequest) (string, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	maxItems := req.MaxItems
	if maxItems <= 0 || maxItems > 100 {
		maxItems = 100
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_requests (id, platform, user_id, max_items, include_parent, status)
		 VALUES ($1, $2, $3, $4, $5, 'queued')`,
		id, req.Platform, req.UserID, maxItems, req.IncludeParent)
	if err != nil {
		return "", fmt.Errorf("insert request: %w", err)
	}
	return id, nil
}

// GetRequest loads one request; (nil, nil) when it does not exist.
func (s *Storage) GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	var req model.AnalysisRequest
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, user_id, max_items, include_parent, status, error_message, created_at, updated_at
		 FROM analysis_requests WHERE id = $1`, id).
		Scan(&req.ID, &req.Platform, &req.UserID, &req.MaxItems, &req.IncludeParent,
			&req.Status, &errMsg, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select request: %w", err)
	}
	req.ErrorMessage = errMsg.String
	return &req, nil
}

// ClaimRequest atomically advances a queued request to fetching. The WHERE
// clause is the guard: only one caller ever sees a row updated.
func (s *Storage) ClaimRequest(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_requests SET status = 'fetching', updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListQueued returns queued request ids, oldest first.
func (s *Storage) ListQueued(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM analysis_requests WHERE status = 'queued' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Storage) MarkDone(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_requests SET status = 'done', updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	return err
}

func (s *Storage) MarkError(ctx context.Context, id string, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_requests SET status = 'error', error_message = $2, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`, id, msg)
	return err
}

// SaveResult writes the aggregate and its per-item rows in one transaction.
// The unique request_id constraint keeps the write at-most-once.
func (s *Storage) SaveResult(ctx context.Context, res *model.AnalysisResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	averages, err := json.Marshal(res.SignalAverages)
	if err != nil {
		return rollback(tx, fmt.Errorf("marshal signal averages: %w", err))
	}

	var resultID int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO analysis_results
		 (request_id, platform, user_id, user_score, analyzed_count, total_count, method,
		  overall_confidence, entropy_count, classified_count, context_count, signal_averages, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		res.RequestID, res.Platform, res.UserID, res.UserScore, res.AnalyzedCount, res.TotalCount,
		res.Method, res.OverallConfidence,
		res.StageCounts[model.StageEntropy], res.StageCounts[model.StageClassified], res.StageCounts[model.StageContext],
		string(averages), res.CreatedAt).Scan(&resultID)
	if err != nil {
		return rollback(tx, fmt.Errorf("insert result: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO result_items
		 (result_id, item_id, composite_score, text_len, stage, confidence, used_parent_context, inconclusive, signals)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return rollback(tx, err)
	}
	defer stmt.Close()

	for _, it := range res.Items {
		signals, err := json.Marshal(it.Signals)
		if err != nil {
			return rollback(tx, fmt.Errorf("marshal signals for %s: %w", it.ItemID, err))
		}
		if _, err := stmt.ExecContext(ctx, resultID, it.ItemID, it.CompositeScore, it.TextLen,
			string(it.Stage), it.Confidence, it.UsedParentContext, it.Inconclusive, string(signals)); err != nil {
			return rollback(tx, fmt.Errorf("insert result item %s: %w", it.ItemID, err))
		}
	}

	return tx.Commit()
}

// GetResult loads the aggregate and its items for a request; (nil, nil) when
// no result has been written yet.
func (s *Storage) GetResult(ctx context.Context, requestID string) (*model.AnalysisResult, error) {
	var res model.AnalysisResult
	var resultID int
	var entropyCount, classifiedCount, contextCount int
	var averages string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, platform, user_id, user_score, analyzed_count, total_count, method,
		        overall_confidence, entropy_count, classified_count, context_count, signal_averages, created_at
		 FROM analysis_results WHERE request_id = $1`, requestID).
		Scan(&resultID, &res.RequestID, &res.Platform, &res.UserID, &res.UserScore,
			&res.AnalyzedCount, &res.TotalCount, &res.Method, &res.OverallConfidence,
			&entropyCount, &classifiedCount, &contextCount, &averages, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select result: %w", err)
	}

	res.StageCounts = map[model.Stage]int{
		model.StageEntropy:    entropyCount,
		model.StageClassified: classifiedCount,
		model.StageContext:    contextCount,
	}
	if err := json.Unmarshal([]byte(averages), &res.SignalAverages); err != nil {
		return nil, fmt.Errorf("unmarshal signal averages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, composite_score, text_len, stage, confidence, used_parent_context, inconclusive, signals
		 FROM result_items WHERE result_id = $1 ORDER BY id ASC`, resultID)
	if err != nil {
		return nil, fmt.Errorf("select result items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.PerItemSummary
		var stage, signals string
		if err := rows.Scan(&it.ItemID, &it.CompositeScore, &it.TextLen, &stage,
			&it.Confidence, &it.UsedParentContext, &it.Inconclusive, &signals); err != nil {
			return nil, err
		}
		it.Stage = model.Stage(stage)
		if err := json.Unmarshal([]byte(signals), &it.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals for %s: %w", it.ItemID, err)
		}
		res.Items = append(res.Items, &it)
	}
	return &res, rows.Err()
}

func rollback(tx *sql.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return fmt.Errorf("%w: %v", err, rerr)
	}
	return err
}
