// Package server exposes the HTTP API: job upload, processing, progress,
// review resolution, and export.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/export"
	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/orchestrator"
	"github.com/klimatrix/factor-cli/internal/store"
)

const maxUploadBytes = 32 << 20

// Server handles the HTTP API.
type Server struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	corsOrigins  []string
}

// New creates the API server.
func New(st store.Store, orc *orchestrator.Orchestrator, corsOrigins []string) *Server {
	return &Server{store: st, orchestrator: orc, corsOrigins: corsOrigins}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/rows", s.handleListRows)
		r.Post("/jobs/{jobID}/rows", s.handleAddRow)
		r.Post("/jobs/{jobID}/process", s.handleProcess)
		r.Get("/jobs/{jobID}/progress", s.handleProgress)
		r.Get("/jobs/{jobID}/ambiguous", s.handleListAmbiguous)
		r.Post("/jobs/{jobID}/resolve", s.handleBatchResolve)
		r.Get("/jobs/{jobID}/export", s.handleExport)
		r.Patch("/rows/{rowID}", s.handleEditRow)
		r.Delete("/rows/{rowID}", s.handleDeleteRow)
		r.Post("/rows/{rowID}/resolve", s.handleResolveRow)
		r.Get("/rows/{rowID}/provenance", s.handleProvenance)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateJob accepts a multipart template upload and creates a pending
// job with its rows.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload failed")
		return
	}

	rows, err := export.ParseTemplate(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	for i := range rows {
		orchestrator.NormalizeRow(&rows[i])
	}

	job := &model.Job{
		ID:        uuid.NewString(),
		Mode:      model.ModeAuto,
		Status:    model.JobStatusPending,
		TotalRows: len(rows),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(r.Context(), job, rows); err != nil {
		zap.L().Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":     job.ID,
		"total_rows": job.TotalRows,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), 50)
	if err != nil {
		zap.L().Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeStoreError(w, err, "get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListRows(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeStoreError(w, err, "list rows")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleAddRow appends a structured row to an existing job.
func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err, "get job")
		return
	}

	var row model.InputRow
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if row.Label == "" || row.ReferenceUnit == "" {
		writeError(w, http.StatusBadRequest, "label and reference_unit are required")
		return
	}

	orchestrator.NormalizeRow(&row)
	if err := s.store.AddRow(r.Context(), jobID, &row); err != nil {
		writeStoreError(w, err, "add row")
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}
	if err := s.store.DeleteRow(r.Context(), rowID); err != nil {
		writeStoreError(w, err, "delete row")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProcess kicks off background processing of the job's pending rows.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err, "get job")
		return
	}

	var req struct {
		Mode model.ProcessingMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeAuto
	}
	if req.Mode != model.ModeAuto && req.Mode != model.ModeReview {
		writeError(w, http.StatusBadRequest, "mode must be auto or review")
		return
	}

	// Processing outlives the request.
	go func() {
		if err := s.orchestrator.ProcessJob(context.Background(), jobID, req.Mode); err != nil {
			zap.L().Error("job processing failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"job_id": jobID,
		"mode":   string(req.Mode),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err, "get job")
		return
	}
	rows, err := s.store.ListRows(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err, "list rows")
		return
	}
	results, err := s.store.LatestResults(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err, "latest results")
		return
	}

	counts := map[model.RowStatus]int{}
	summaries := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		counts[row.Status]++
		result := results[row.ID]
		summary := map[string]any{
			"id":            row.ID,
			"row_index":     row.RowIndex,
			"label":         row.Label,
			"status":        row.Status,
			"error_message": row.ErrorMessage,
			"has_result":    result != nil,
		}
		if result != nil {
			summary["biogenic_t"] = result.BiogenicT
			summary["total_t"] = result.TotalT
		}
		summaries = append(summaries, summary)
	}

	processing := counts[model.RowStatusSearching] + counts[model.RowStatusDeciding] + counts[model.RowStatusDecomposing]
	done := counts[model.RowStatusCalculated] + counts[model.RowStatusAmbiguous] + counts[model.RowStatusError]

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     jobID,
		"job_status": job.Status,
		"total":      len(rows),
		"pending":    counts[model.RowStatusPending],
		"processing": processing,
		"done":       done,
		"calculated": counts[model.RowStatusCalculated],
		"ambiguous":  counts[model.RowStatusAmbiguous],
		"errors":     counts[model.RowStatusError],
		"rows":       summaries,
	})
}

// handleListAmbiguous lists rows awaiting review, each with its candidate set.
func (s *Server) handleListAmbiguous(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err, "get job")
		return
	}
	rows, err := s.store.ListRows(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err, "list rows")
		return
	}
	results, err := s.store.LatestResults(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err, "latest results")
		return
	}

	out := make([]map[string]any, 0)
	for _, row := range rows {
		if row.Status != model.RowStatusAmbiguous {
			continue
		}
		entry := map[string]any{
			"id":             row.ID,
			"row_index":      row.RowIndex,
			"label":          row.Label,
			"product_info":   row.ProductInfo,
			"reference_unit": row.ReferenceUnit,
			"region":         row.Region,
		}
		if result := results[row.ID]; result != nil {
			entry["candidates"] = result.Candidates
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBatchResolve applies several review selections in one call. Failures
// are reported per row; valid selections still go through.
func (s *Server) handleBatchResolve(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err, "get job")
		return
	}

	var req struct {
		Selections []struct {
			RowID      int64  `json:"row_id"`
			SelectedID string `json:"selected_id"`
		} `json:"selections"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Selections) == 0 {
		writeError(w, http.StatusBadRequest, "selections are required")
		return
	}

	resolved := 0
	failures := make([]map[string]any, 0)
	failRow := func(rowID int64, msg string) {
		failures = append(failures, map[string]any{"row_id": rowID, "error": msg})
	}
	for _, sel := range req.Selections {
		row, err := s.store.GetRow(r.Context(), sel.RowID)
		if err != nil {
			failRow(sel.RowID, "row not found")
			continue
		}
		if row.JobID != jobID {
			failRow(sel.RowID, "row does not belong to this job")
			continue
		}
		if row.Status != model.RowStatusAmbiguous {
			failRow(sel.RowID, "row is not awaiting resolution")
			continue
		}
		if err := s.resolveSelection(r.Context(), row, sel.SelectedID); err != nil {
			failRow(sel.RowID, err.Error())
			continue
		}
		resolved++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resolved": resolved,
		"failed":   len(failures),
		"failures": failures,
	})
}

// resolveSelection enforces candidate membership before finalizing the match.
func (s *Server) resolveSelection(ctx context.Context, row *model.InputRow, selectedID string) error {
	if selectedID == "" {
		return errors.New("selected_id is required")
	}
	result, err := s.store.LatestResult(ctx, row.ID)
	if err != nil {
		return errors.New("no pending result for row")
	}
	valid := false
	for _, c := range result.Candidates {
		if c.ExternalID == selectedID {
			valid = true
			break
		}
	}
	if !valid {
		return errors.New("selected_id is not among the row's candidates")
	}
	return s.orchestrator.ResolveMatch(ctx, row, selectedID)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err, "get job")
		return
	}

	file, err := export.BuildResults(r.Context(), s.store, jobID)
	if err != nil {
		zap.L().Error("export failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=factor_results_%s.xlsx", shortID(jobID)))
	if err := file.Write(w); err != nil {
		zap.L().Error("write export failed", zap.Error(err))
	}
}

// handleEditRow applies user edits and resets the row to pending.
func (s *Server) handleEditRow(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}

	var edit store.RowEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.EditRow(r.Context(), rowID, edit); err != nil {
		writeStoreError(w, err, "edit row")
		return
	}

	row, err := s.store.GetRow(r.Context(), rowID)
	if err != nil {
		writeStoreError(w, err, "get row")
		return
	}
	orchestrator.NormalizeRow(row)
	if err := s.store.UpdateRowNormalized(r.Context(), rowID, row.LabelNorm, row.ProductInfoNorm, row.RegionNorm); err != nil {
		writeStoreError(w, err, "update normalized")
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// handleResolveRow finalizes an ambiguous row with a user-selected candidate.
func (s *Server) handleResolveRow(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}

	var req struct {
		SelectedID string `json:"selected_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SelectedID == "" {
		writeError(w, http.StatusBadRequest, "selected_id is required")
		return
	}

	row, err := s.store.GetRow(r.Context(), rowID)
	if err != nil {
		writeStoreError(w, err, "get row")
		return
	}
	if row.Status != model.RowStatusAmbiguous {
		writeError(w, http.StatusConflict, "row is not awaiting resolution")
		return
	}

	result, err := s.store.LatestResult(r.Context(), rowID)
	if err != nil {
		writeStoreError(w, err, "latest result")
		return
	}
	valid := false
	for _, c := range result.Candidates {
		if c.ExternalID == req.SelectedID {
			valid = true
			break
		}
	}
	if !valid {
		writeError(w, http.StatusBadRequest, "selected_id is not among the row's candidates")
		return
	}

	if err := s.orchestrator.ResolveMatch(r.Context(), row, req.SelectedID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	updated, err := s.store.GetRow(r.Context(), rowID)
	if err != nil {
		writeStoreError(w, err, "get row")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}
	result, err := s.store.LatestResult(r.Context(), rowID)
	if err != nil {
		writeStoreError(w, err, "latest result")
		return
	}
	if result.Provenance == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no provenance data available"})
		return
	}
	writeJSON(w, http.StatusOK, result.Provenance)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
