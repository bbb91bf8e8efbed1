package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"codelab-exec/internal/gateway"
	"codelab-exec/internal/language"
	"codelab-exec/internal/monitor"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/storage"
)

// Executor is the gateway surface the handlers depend on.
type Executor interface {
	Execute(ctx context.Context, req gateway.Request) gateway.Result
	ValidateOnly(code, language string) gateway.ValidationReport
	InFlight() int
}

type Handlers struct {
	gw          Executor
	languages   *language.Registry
	db          *storage.DB
	auditWriter *storage.AuditWriter
	metrics     *monitor.Metrics
	defaults    sandbox.ResourceLimits
	maxima      sandbox.ResourceLimits
}

func NewHandlers(gw Executor, languages *language.Registry, db *storage.DB, auditWriter *storage.AuditWriter, metrics *monitor.Metrics, defaults, maxima sandbox.ResourceLimits) *Handlers {
	return &Handlers{
		gw:          gw,
		languages:   languages,
		db:          db,
		auditWriter: auditWriter,
		metrics:     metrics,
		defaults:    defaults,
		maxima:      maxima,
	}
}

// HandleExecute runs one submission end to end. Rejections the service
// produced deliberately (too large, dangerous pattern, timeout, OOM) are
// 200s carrying their status; only infrastructure trouble surfaces as 5xx.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if !h.languages.Supported(req.Language) {
		writeError(w, "unsupported language: "+req.Language, "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}

	if h.metrics != nil {
		h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
		h.metrics.ActiveExecutions.Inc()
		defer h.metrics.ActiveExecutions.Dec()
	}

	start := time.Now()
	result := h.gw.Execute(r.Context(), gateway.Request{
		Code:      req.Code,
		Language:  req.Language,
		TestCases: req.TestCases,
		Limits:    req.Limits.ResourceLimits(),
	})

	if h.metrics != nil {
		h.metrics.OutputSizeBytes.Observe(float64(len(result.Output)))
	}

	h.logAudit(result, req, start, r)

	httpStatus := http.StatusOK
	switch result.Status {
	case gateway.StatusInfraError:
		httpStatus = http.StatusInternalServerError
	case gateway.StatusBackpressure:
		w.Header().Set("Retry-After", "5")
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, toExecuteResponse(result))
}

// HandleValidate scans a submission without executing it.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Language == "" || req.Code == "" {
		writeError(w, "language and code are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if !h.languages.Supported(req.Language) {
		writeError(w, "unsupported language: "+req.Language, "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}

	report := h.gw.ValidateOnly(req.Code, req.Language)
	writeJSON(w, http.StatusOK, ValidateResponse{
		Safe:       report.Safe,
		Violations: report.Violations,
	})
}

// HandleLanguages lists the supported runtimes and the limit envelope.
func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	names := h.languages.Names()
	infos := make([]LanguageInfo, 0, len(names))
	for _, name := range names {
		rt, err := h.languages.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, LanguageInfo{Name: rt.Name(), Image: rt.Image()})
	}
	writeJSON(w, http.StatusOK, LanguagesResponse{
		Languages:     infos,
		DefaultLimits: h.defaults,
		MaxLimits:     h.maxima,
	})
}

// HandleLanguageCheck answers whether one language is runnable here.
func (h *Handlers) HandleLanguageCheck(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("language")
	if name == "" {
		writeError(w, "language required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	rt, err := h.languages.Get(name)
	resp := LanguageCheckResponse{Language: name, Supported: err == nil}
	if err == nil {
		resp.Image = rt.Image()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) logAudit(result gateway.Result, req ExecuteRequest, start time.Time, r *http.Request) {
	if h.auditWriter == nil {
		return
	}

	passed := 0
	for _, tr := range result.TestResults {
		if tr.Passed {
			passed++
		}
	}

	hash := sha256.Sum256([]byte(req.Code))
	h.auditWriter.Log(&storage.Execution{
		RequestID:    result.RequestID,
		Language:     req.Language,
		CodeHash:     hex.EncodeToString(hash[:]),
		Status:       string(result.Status),
		DurationMS:   result.ExecutionTime.Milliseconds(),
		CPUTimeMS:    result.ResourceUsage.CPUTime.Milliseconds(),
		PeakMemoryMB: result.ResourceUsage.PeakMemory >> 20,
		Violations:   len(result.SecurityViolations),
		TestsPassed:  passed,
		TestsTotal:   len(result.TestResults),
		RequestIP:    r.RemoteAddr,
		CreatedAt:    start,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
