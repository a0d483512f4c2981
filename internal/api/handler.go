package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/midnight-learners/generative-agents/internal/memory"
	"github.com/midnight-learners/generative-agents/internal/world"
)

const defaultK = 10

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	stream  *memory.Stream
	clock   *world.WorldClock
	weights memory.Weights
	logger  *zap.Logger
}

// NewHandler creates a new API handler. weights are used when a retrieval
// request does not override them.
func NewHandler(stream *memory.Stream, clock *world.WorldClock, weights memory.Weights, logger *zap.Logger) *Handler {
	return &Handler{
		stream:  stream,
		clock:   clock,
		weights: weights,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/world/time", h.worldTime)
		r.Post("/world/advance", h.advanceWorld)

		r.Post("/agents/{id}/memories", h.remember)
		r.Get("/agents/{id}/memories", h.recall)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) worldTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]time.Time{"world_time": h.clock.Now()})
}

type advanceRequest struct {
	Duration string `json:"duration"`
}

func (h *Handler) advanceWorld(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid duration %q", req.Duration))
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"world_time": h.clock.Advance(d)})
}

type rememberRequest struct {
	Content   string     `json:"content"`
	Type      int        `json:"type"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type memoryView struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	TypeCode   int       `json:"type_code"`
	CreatedAt  time.Time `json:"created_at"`
	Importance *float64  `json:"importance,omitempty"`
}

func newMemoryView(rec *memory.Record) memoryView {
	v := memoryView{
		ID:        rec.ID(),
		AgentID:   rec.AgentID(),
		Content:   rec.Content(),
		Type:      rec.Type().String(),
		TypeCode:  rec.Type().Code(),
		CreatedAt: rec.CreatedAt(),
	}
	if imp, ok := rec.Importance(); ok {
		v.Importance = &imp
	}
	return v
}

// remember stores a memory. Without created_at the current world time is used.
func (h *Handler) remember(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	typ, err := memory.FromCode(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	at := h.clock.Now()
	if req.CreatedAt != nil {
		at = *req.CreatedAt
	}

	rec, err := h.stream.Remember(r.Context(), agentID, req.Content, typ, at)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMemoryView(rec))
}

type rankedView struct {
	Memory     memoryView `json:"memory"`
	Score      float64    `json:"score"`
	Recency    float64    `json:"recency"`
	Importance float64    `json:"importance"`
	Relevance  float64    `json:"relevance"`
	Fallback   bool       `json:"fallback"`
}

type recallResponse struct {
	QueryTime time.Time    `json:"query_time"`
	Results   []rankedView `json:"results"`
	Context   string       `json:"context"`
}

// recall ranks an agent's memories. Query parameters: k, since, until, at
// (RFC 3339, at defaults to world time and until to at) and w_recency, w_importance,
// w_relevance to override the weights.
func (h *Handler) recall(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	q := r.URL.Query()

	k := defaultK
	if s := q.Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid k %q", s))
			return
		}
		k = n
	}

	var (
		tr  memory.TimeRange
		at  = h.clock.Now()
		err error
	)
	for name, dst := range map[string]*time.Time{"since": &tr.From, "until": &tr.To, "at": &at} {
		if s := q.Get(name); s != "" {
			if *dst, err = time.Parse(time.RFC3339, s); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s %q", name, s))
				return
			}
		}
	}

	// Memories stamped after the query time are not visible yet.
	if tr.To.IsZero() {
		tr.To = at
	}

	weights := h.weights
	for name, dst := range map[string]*float64{
		"w_recency":    &weights.Recency,
		"w_importance": &weights.Importance,
		"w_relevance":  &weights.Relevance,
	} {
		if s := q.Get(name); s != "" {
			if *dst, err = strconv.ParseFloat(s, 64); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s %q", name, s))
				return
			}
		}
	}

	ranked, err := h.stream.Recall(r.Context(), agentID, tr, at, k, weights)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}

	resp := recallResponse{
		QueryTime: at,
		Results:   make([]rankedView, len(ranked)),
		Context:   memory.FormatContext(ranked, memory.DefaultContextBudget()),
	}
	for i, rk := range ranked {
		resp.Results[i] = rankedView{
			Memory:     newMemoryView(rk.Record),
			Score:      rk.Score,
			Recency:    rk.Recency,
			Importance: rk.Importance,
			Relevance:  rk.Relevance,
			Fallback:   rk.Fallback,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrInvalidArgument),
		errors.Is(err, memory.ErrInvalidTypeCode),
		errors.Is(err, memory.ErrInvalidTimeOrdering):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, memory.ErrGatewayUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("memory request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
