package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/plotsync/internal/errors"
	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/middleware"
	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/normalize"
	"github.com/stwalsh4118/plotsync/internal/progress"
	"github.com/stwalsh4118/plotsync/internal/rowsource"
	"github.com/stwalsh4118/plotsync/internal/services"
)

// ImportHandler handles the import pipeline endpoints. Preview and commit
// answer with an NDJSON event stream.
type ImportHandler struct {
	service services.Importer
	log     *logger.Logger
}

// NewImportHandler creates a new ImportHandler instance.
func NewImportHandler(service services.Importer, log *logger.Logger) *ImportHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ImportHandler{
		service: service,
		log:     log,
	}
}

// PreviewRequest is the JSON body of the preview endpoint.
type PreviewRequest struct {
	Rows                []normalize.Row `json:"rows" binding:"required,min=1"`
	District            string          `json:"district" binding:"max=200"`
	Settlement          string          `json:"settlement" binding:"max=200"`
	Description         string          `json:"description"`
	AutoResolve         bool            `json:"autoResolve"`
	AllowEmptyCadastral bool            `json:"allowEmptyCadastral"`
}

// UploadForm is the multipart form of the upload preview endpoint.
type UploadForm struct {
	File                *multipart.FileHeader `form:"file" binding:"required"`
	District            string                `form:"district" binding:"max=200"`
	Settlement          string                `form:"settlement" binding:"max=200"`
	Description         string                `form:"description"`
	AutoResolve         bool                  `form:"autoResolve"`
	AllowEmptyCadastral bool                  `form:"allowEmptyCadastral"`
}

// CommitRequest is the JSON body of the commit endpoint.
type CommitRequest struct {
	Records     []models.PlotRecord `json:"records" binding:"required"`
	Scope       string              `json:"scope" binding:"max=200"`
	FileName    string              `json:"fileName"`
	FileType    string              `json:"fileType" binding:"omitempty,oneof=xlsx csv json"`
	AutoResolve bool                `json:"autoResolve"`
}

// LogsRequest represents the query parameters of the logs endpoint.
type LogsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// LogsResponse represents the response of the logs endpoint.
type LogsResponse struct {
	Logs  []models.ImportLog `json:"logs"`
	Count int                `json:"count"`
}

// Preview handles POST /api/v1/imports/preview.
func (h *ImportHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.checkRows(c, len(req.Rows)) {
		return
	}

	h.startPreview(c, services.PreviewRequest{
		Rows:                req.Rows,
		District:            req.District,
		Settlement:          req.Settlement,
		Description:         req.Description,
		AutoResolve:         req.AutoResolve,
		AllowEmptyCadastral: req.AllowEmptyCadastral,
	})
}

// PreviewUpload handles POST /api/v1/imports/preview/upload.
// It reads the uploaded spreadsheet and streams the same events as Preview.
func (h *ImportHandler) PreviewUpload(c *gin.Context) {
	var form UploadForm
	if err := c.ShouldBind(&form); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid upload form", nil)
		return
	}

	rows, err := readUpload(form.File)
	if err != nil {
		apierrors.UnsupportedFile(c, form.File.Filename, err)
		return
	}
	if !h.checkRows(c, len(rows)) {
		return
	}

	middleware.LoggerOr(c, h.log).Info("Processing uploaded spreadsheet", map[string]interface{}{
		"file": form.File.Filename,
		"size": form.File.Size,
		"rows": len(rows),
	})

	h.startPreview(c, services.PreviewRequest{
		Rows:                rows,
		District:            form.District,
		Settlement:          form.Settlement,
		Description:         form.Description,
		AutoResolve:         form.AutoResolve,
		AllowEmptyCadastral: form.AllowEmptyCadastral,
	})
}

// Commit handles POST /api/v1/imports/commit. A missing scope is rejected
// before the stream starts; every later failure ends the stream with an
// error event.
func (h *ImportHandler) Commit(c *gin.Context) {
	var req CommitRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.checkRows(c, len(req.Records)) {
		return
	}

	commit := services.CommitRequest{
		Records:     req.Records,
		Scope:       req.Scope,
		FileName:    req.FileName,
		FileType:    req.FileType,
		AutoResolve: req.AutoResolve,
	}
	if services.ScopeFor(commit).IsEmpty() {
		apierrors.ScopeRequired(c)
		return
	}

	h.stream(c, progress.PhaseCommit, func(ctx context.Context, sink progress.Sink) {
		_, _ = h.service.Commit(ctx, commit, sink)
	})
}

// Logs handles GET /api/v1/imports/logs.
func (h *ImportHandler) Logs(c *gin.Context) {
	var req LogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	logs, err := h.service.Logs(c.Request.Context(), req.Limit)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to list import logs", err)
		return
	}

	c.JSON(http.StatusOK, LogsResponse{Logs: logs, Count: len(logs)})
}

func (h *ImportHandler) startPreview(c *gin.Context, req services.PreviewRequest) {
	h.stream(c, progress.PhasePreview, func(ctx context.Context, sink progress.Sink) {
		_, _ = h.service.Preview(ctx, req, sink)
	})
}

// stream runs fn on a fresh run and writes its events to the response until
// the run ends. fn reports its own failures as error events; a panic in fn
// is logged and ends the stream with an error event for phase.
func (h *ImportHandler) stream(c *gin.Context, phase string, fn func(ctx context.Context, sink progress.Sink)) {
	run := h.service.NewRun()
	log := middleware.LoggerOr(c, h.log)

	c.Header("Content-Type", progress.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header(middleware.RunIDHeader, run.ID())
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	ctx := c.Request.Context()
	go func() {
		defer run.Close()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("internal error: %v", r)
				log.Error("Import run panicked", err, map[string]interface{}{
					"run_id": run.ID(),
					"phase":  phase,
					"stack":  string(debug.Stack()),
				})
				_ = run.Emit(context.WithoutCancel(ctx), progress.Failure(phase, err))
			}
		}()
		fn(ctx, run)
	}()

	if err := progress.Pump(run.Events(), progress.NewNDJSONWriter(c.Writer)); err != nil {
		log.Warn("Event stream interrupted", map[string]interface{}{
			"run_id": run.ID(),
			"error":  err.Error(),
		})
	}
}

func (h *ImportHandler) checkRows(c *gin.Context, n int) bool {
	if limit := h.service.MaxRows(); limit > 0 && n > limit {
		apierrors.TooManyRows(c, n, limit)
		return false
	}
	return true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return false
	}
	return true
}

func readUpload(fh *multipart.FileHeader) ([]normalize.Row, error) {
	if rowsource.FormatOf(fh.Filename) == "" {
		return nil, rowsource.ErrUnsupportedFormat
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := rowsource.Read(fh.Filename, f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("no data rows found")
	}
	return rows, nil
}
