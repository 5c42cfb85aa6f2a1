package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "costwatch/internal/errors"
	"costwatch/internal/report"
	"costwatch/internal/services"
)

// AnalysisHandler serves the cost-center analysis endpoints.
type AnalysisHandler struct {
	service        *services.AnalysisService
	reports        *report.Writer
	logger         *slog.Logger
	errorHandler   *apierrors.ErrorHandler
	maxUploadBytes int64
	defaultDataset string
}

// NewAnalysisHandler creates the handler with its collaborators.
func NewAnalysisHandler(service *services.AnalysisService, reports *report.Writer, logger *slog.Logger, maxUploadBytes int64, defaultDataset string) *AnalysisHandler {
	return &AnalysisHandler{
		service:        service,
		reports:        reports,
		logger:         logger.With(slog.String("handler", "analysis")),
		errorHandler:   apierrors.NewErrorHandler(logger, false),
		maxUploadBytes: maxUploadBytes,
		defaultDataset: defaultDataset,
	}
}

// RegisterRoutes registers the cost-center routes.
func (h *AnalysisHandler) RegisterRoutes(r chi.Router) {
	r.Route("/cost-center", func(r chi.Router) {
		r.Post("/analyze", h.Analyze)
		r.Get("/analyze", h.AnalyzeDefault)
		r.Get("/analyze/{runID}", h.GetRun)
		r.Get("/analyze/{runID}/report", h.DownloadReport)
	})
}

// Analyze handles POST /api/cost-center/analyze: a multipart workbook upload
// with an optional year_month form field.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		if isBodyTooLarge(err) {
			h.errorHandler.HandleError(w, r, apierrors.ErrFileTooLarge)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrNoUploadFile)
		return
	}
	defer file.Close()

	if strings.TrimSpace(header.Filename) == "" {
		h.errorHandler.HandleError(w, r, apierrors.New(
			http.StatusBadRequest, "EMPTY_FILENAME", "Uploaded file has no name"))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	targetYM := r.FormValue("year_month")
	h.logger.InfoContext(ctx, "workbook upload received",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(content)),
		slog.String("target_ym", targetYM))

	result, err := h.service.AnalyzeWorkbook(ctx, content, targetYM)
	if err != nil {
		h.errorHandler.HandleError(w, r, classifyAnalysisError(err))
		return
	}
	render.JSON(w, r, result)
}

// AnalyzeDefault handles GET /api/cost-center/analyze: analysis of the
// configured default dataset, answered from the cache after the first run.
func (h *AnalysisHandler) AnalyzeDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	content, err := os.ReadFile(h.defaultDataset)
	if err != nil {
		h.logger.WarnContext(ctx, "default dataset unavailable",
			slog.String("path", h.defaultDataset),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("default dataset"))
		return
	}

	result, err := h.service.AnalyzeWorkbook(ctx, content, r.URL.Query().Get("year_month"))
	if err != nil {
		h.errorHandler.HandleError(w, r, classifyAnalysisError(err))
		return
	}
	render.JSON(w, r, result)
}

// GetRun handles GET /api/cost-center/analyze/{runID}.
func (h *AnalysisHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	result, ok := h.service.Run(runID)
	if !ok {
		h.errorHandler.HandleError(w, r, apierrors.RunNotFoundError(runID))
		return
	}
	render.JSON(w, r, result)
}

// DownloadReport handles GET /api/cost-center/analyze/{runID}/report and
// streams the four-sheet Excel report for a completed run. An optional
// year_month query restricts the report to one period.
func (h *AnalysisHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	result, ok := h.service.Run(runID)
	if !ok {
		h.errorHandler.HandleError(w, r, apierrors.RunNotFoundError(runID))
		return
	}

	targetYM := r.URL.Query().Get("year_month")
	filename := "cost_report_" + result.Summary.YearMonth + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.reports.WriteTo(result.Table, targetYM, w); err != nil {
		h.logger.ErrorContext(r.Context(), "report streaming failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
	}
}

// classifyAnalysisError maps service failures to API errors: malformed
// workbooks are client errors, everything else is an execution failure.
func classifyAnalysisError(err error) error {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "missing column"),
		strings.Contains(msg, "missing sheet"),
		strings.Contains(msg, "no data rows"),
		strings.Contains(msg, "year_month"),
		strings.Contains(msg, "failed to open workbook"):
		return apierrors.WorkbookFormatError(err)
	case strings.Contains(msg, "no rows for period"):
		return apierrors.New(http.StatusUnprocessableEntity, "NO_ROWS_FOR_PERIOD", msg)
	default:
		return apierrors.ErrAnalysisExecution(err)
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// multipart does not always preserve the typed error.
	return strings.Contains(err.Error(), "request body too large")
}
