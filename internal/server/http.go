package server

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/gorilla/mux"

	"github.com/botradar/bot_radar/internal/conf"
	"github.com/botradar/bot_radar/pkg/model"
)

type analyzeRequest struct {
	RequestID     string `json:"request_id"`
	Platform      string `json:"platform"`
	UserID        string `json:"user_id"`
	MaxItems      int    `json:"max_items"`
	IncludeParent bool   `json:"include_parent"`
}

type analyzeResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type requestStatusResponse struct {
	RequestID    string                `json:"request_id"`
	Platform     string                `json:"platform"`
	UserID       string                `json:"user_id"`
	Status       string                `json:"status"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Result       *model.AnalysisResult `json:"result,omitempty"`
}

func NewHTTPServer(c *conf.Server, pl *Pipeline, logger log.Logger) *http.Server {
	helper := log.NewHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c != nil && c.Http != nil {
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout != "" {
			if d, err := time.ParseDuration(c.Http.Timeout); err == nil {
				opts = append(opts, http.Timeout(d))
			}
		}
	}

	srv := http.NewServer(opts...)

	srv.HandleFunc("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"})
	})

	// Submits a new analysis or re-triggers an already queued one. The engine
	// claim is a compare-and-set, so a duplicate trigger is harmless.
	srv.HandleFunc("/analyze", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		var body analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, nethttp.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		id := body.RequestID
		if id == "" {
			if body.UserID == "" {
				writeJSON(w, nethttp.StatusBadRequest, map[string]string{"error": "user_id or request_id required"})
				return
			}
			platform := body.Platform
			if platform == "" {
				platform = "reddit"
			}
			created, err := pl.Store.CreateRequest(r.Context(), &model.AnalysisRequest{
				Platform:      platform,
				UserID:        body.UserID,
				MaxItems:      body.MaxItems,
				IncludeParent: body.IncludeParent,
			})
			if err != nil {
				helper.Errorf("failed to create request for user %s: %v", body.UserID, err)
				writeJSON(w, nethttp.StatusInternalServerError, map[string]string{"error": "failed to create request"})
				return
			}
			id = created
		} else {
			req, err := pl.Store.GetRequest(r.Context(), id)
			if err != nil {
				helper.Errorf("failed to load request %s: %v", id, err)
				writeJSON(w, nethttp.StatusInternalServerError, map[string]string{"error": "failed to load request"})
				return
			}
			if req == nil {
				writeJSON(w, nethttp.StatusNotFound, map[string]string{"error": "request not found"})
				return
			}
		}

		go func(requestID string) {
			if err := pl.Engine.Process(context.Background(), requestID); err != nil {
				helper.Errorf("analysis failed for request %s: %v", requestID, err)
			}
		}(id)

		writeJSON(w, nethttp.StatusAccepted, analyzeResponse{RequestID: id, Status: string(model.StatusQueued)})
	})

	srv.HandleFunc("/requests/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := mux.Vars(r)["id"]
		req, err := pl.Store.GetRequest(r.Context(), id)
		if err != nil {
			helper.Errorf("failed to load request %s: %v", id, err)
			writeJSON(w, nethttp.StatusInternalServerError, map[string]string{"error": "failed to load request"})
			return
		}
		if req == nil {
			writeJSON(w, nethttp.StatusNotFound, map[string]string{"error": "request not found"})
			return
		}

		resp := requestStatusResponse{
			RequestID:    req.ID,
			Platform:     req.Platform,
			UserID:       req.UserID,
			Status:       string(req.Status),
			ErrorMessage: req.ErrorMessage,
		}
		if req.Status == model.StatusDone {
			result, err := pl.Store.GetResult(r.Context(), id)
			if err != nil {
				helper.Errorf("failed to load result for request %s: %v", id, err)
			} else {
				resp.Result = result
			}
		}
		writeJSON(w, nethttp.StatusOK, resp)
	})

	return srv
}

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
