package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "github.com/stwalsh4118/plotsync/internal/errors"
	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/middleware"
	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/progress"
	"github.com/stwalsh4118/plotsync/internal/reconcile"
	"github.com/stwalsh4118/plotsync/internal/services"
)

// MockImporter is a mock implementation of services.Importer. Runs are real
// so that handlers stream whatever the mocked calls emit.
type MockImporter struct {
	mock.Mock
	maxRows int
}

func (m *MockImporter) NewRun() *progress.RunContext {
	return progress.NewRunContext("run-test", 8)
}

func (m *MockImporter) MaxRows() int {
	return m.maxRows
}

func (m *MockImporter) Preview(ctx context.Context, req services.PreviewRequest, sink progress.Sink) (*progress.Preview, error) {
	args := m.Called(ctx, req, sink)
	return args.Get(0).(*progress.Preview), args.Error(1)
}

func (m *MockImporter) Commit(ctx context.Context, req services.CommitRequest, sink progress.Sink) (*reconcile.Outcome, error) {
	args := m.Called(ctx, req, sink)
	return args.Get(0).(*reconcile.Outcome), args.Error(1)
}

func (m *MockImporter) Logs(ctx context.Context, limit int) ([]models.ImportLog, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.ImportLog), args.Error(1)
}

// emitting returns a mock Run function that sends events to the sink argument.
func emitting(events ...progress.Event) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		sink := args.Get(2).(progress.Sink)
		for _, e := range events {
			_ = sink.Emit(ctx, e)
		}
	}
}

func setupImportTestRouter(handler *ImportHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Nop()))

	imports := router.Group("/api/v1/imports")
	{
		imports.POST("/preview", handler.Preview)
		imports.POST("/preview/upload", handler.PreviewUpload)
		imports.POST("/commit", handler.Commit)
		imports.GET("/logs", handler.Logs)
	}
	return router
}

func decodeStream(t *testing.T, body *bytes.Buffer) []progress.Event {
	t.Helper()
	var events []progress.Event
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e progress.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func decodeError(t *testing.T, body *bytes.Buffer) apierrors.ErrorResponse {
	t.Helper()
	var response apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &response))
	return response
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, fileName, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImportHandler_Preview(t *testing.T) {
	svc := new(MockImporter)
	svc.On("Preview", mock.Anything, mock.MatchedBy(func(req services.PreviewRequest) bool {
		return len(req.Rows) == 2 && req.Settlement == "пос. Поддубное" && req.AutoResolve
	}), mock.Anything).
		Run(emitting(
			progress.Start(progress.PhasePreview, 2, "normalizing 2 rows"),
			progress.PreviewResult(progress.Preview{Records: []models.PlotRecord{{CadastralNumber: "39:03:1:1"}}}),
		)).
		Return((*progress.Preview)(nil), nil)

	router := setupImportTestRouter(NewImportHandler(svc, nil))
	w := postJSON(router, "/api/v1/imports/preview",
		`{"rows":[{"cadastral_number":"39:03:1:1"},{"cadastral_number":"39:03:1:2"}],"settlement":"пос. Поддубное","autoResolve":true}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, progress.ContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "run-test", w.Header().Get(middleware.RunIDHeader))

	events := decodeStream(t, w.Body)
	require.Len(t, events, 2)
	assert.Equal(t, progress.KindStart, events[0].Kind)
	assert.Equal(t, progress.KindPreview, events[1].Kind)
	assert.Equal(t, 2, events[1].Seq)
	assert.Equal(t, "run-test", events[1].RunID)
	require.NotNil(t, events[1].Preview)
	assert.Equal(t, "39:03:1:1", events[1].Preview.Records[0].CadastralNumber)
	svc.AssertExpectations(t)
}

func TestImportHandler_PreviewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		expectedCode string
	}{
		{name: "no rows", body: `{"rows":[]}`, expectedCode: apierrors.ErrValidation},
		{name: "missing rows", body: `{"settlement":"x"}`, expectedCode: apierrors.ErrValidation},
		{name: "malformed json", body: `{"rows":`, expectedCode: apierrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockImporter)
			router := setupImportTestRouter(NewImportHandler(svc, nil))

			w := postJSON(router, "/api/v1/imports/preview", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.expectedCode, decodeError(t, w.Body).Error.Code)
			svc.AssertNotCalled(t, "Preview", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestImportHandler_PreviewTooManyRows(t *testing.T) {
	svc := &MockImporter{maxRows: 1}
	router := setupImportTestRouter(NewImportHandler(svc, nil))

	w := postJSON(router, "/api/v1/imports/preview", `{"rows":[{"a":1},{"a":2}]}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, apierrors.ErrTooManyRows, decodeError(t, w.Body).Error.Code)
}

func TestImportHandler_PreviewUpload(t *testing.T) {
	svc := new(MockImporter)
	svc.On("Preview", mock.Anything, mock.MatchedBy(func(req services.PreviewRequest) bool {
		return len(req.Rows) == 1 &&
			req.Rows[0]["cadastral_number"] == "39:03:1:1" &&
			req.District == "Гурьевский район" &&
			req.AutoResolve
	}), mock.Anything).
		Run(emitting(progress.PreviewResult(progress.Preview{}))).
		Return((*progress.Preview)(nil), nil)

	router := setupImportTestRouter(NewImportHandler(svc, nil))
	body, contentType := multipartBody(t, "plots.csv", "cadastral_number;price\n39:03:1:1;750000\n", map[string]string{
		"district":    "Гурьевский район",
		"autoResolve": "true",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/preview/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	events := decodeStream(t, w.Body)
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindPreview, events[0].Kind)
	svc.AssertExpectations(t)
}

func TestImportHandler_PreviewUploadRejectsFile(t *testing.T) {
	tests := []struct {
		name         string
		fileName     string
		content      string
		expectedCode string
	}{
		{name: "unknown extension", fileName: "plots.pdf", content: "%PDF-1.4", expectedCode: apierrors.ErrUnsupportedFile},
		{name: "corrupt spreadsheet", fileName: "plots.xlsx", content: "not a zip", expectedCode: apierrors.ErrUnsupportedFile},
		{name: "header only", fileName: "plots.csv", content: "cadastral_number\n", expectedCode: apierrors.ErrUnsupportedFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockImporter)
			router := setupImportTestRouter(NewImportHandler(svc, nil))
			body, contentType := multipartBody(t, tt.fileName, tt.content, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/preview/upload", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.expectedCode, decodeError(t, w.Body).Error.Code)
		})
	}
}

func TestImportHandler_PreviewUploadWithoutFile(t *testing.T) {
	svc := new(MockImporter)
	router := setupImportTestRouter(NewImportHandler(svc, nil))
	body, contentType := multipartBody(t, "", "", map[string]string{"district": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/preview/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Preview", mock.Anything, mock.Anything, mock.Anything)
}

func TestImportHandler_Commit(t *testing.T) {
	summary := models.ImportSummary{Added: 1, Success: true}
	svc := new(MockImporter)
	svc.On("Commit", mock.Anything, mock.MatchedBy(func(req services.CommitRequest) bool {
		return req.Scope == "пос. Поддубное" && len(req.Records) == 1 && req.FileName == "plots.xlsx"
	}), mock.Anything).
		Run(emitting(
			progress.Start(progress.PhaseCommit, 1, "reconciling 1 record"),
			progress.Summary(summary),
		)).
		Return((*reconcile.Outcome)(nil), nil)

	router := setupImportTestRouter(NewImportHandler(svc, nil))
	w := postJSON(router, "/api/v1/imports/commit",
		`{"records":[{"cadastral_number":"39:03:1:1","settlement":"пос. Поддубное"}],"scope":"пос. Поддубное","fileName":"plots.xlsx","fileType":"xlsx"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	events := decodeStream(t, w.Body)
	require.Len(t, events, 2)
	last := events[len(events)-1]
	assert.Equal(t, progress.KindSummary, last.Kind)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 1, last.Summary.Added)
	svc.AssertExpectations(t)
}

func TestImportHandler_CommitScope(t *testing.T) {
	t.Run("missing scope is rejected before streaming", func(t *testing.T) {
		svc := new(MockImporter)
		router := setupImportTestRouter(NewImportHandler(svc, nil))

		w := postJSON(router, "/api/v1/imports/commit",
			`{"records":[{"cadastral_number":"39:03:1:1","settlement":"пос. Поддубное"}]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrScopeRequired, decodeError(t, w.Body).Error.Code)
		svc.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("auto resolve derives scope from records", func(t *testing.T) {
		svc := new(MockImporter)
		svc.On("Commit", mock.Anything, mock.Anything, mock.Anything).
			Run(emitting(progress.Summary(models.ImportSummary{Success: true}))).
			Return((*reconcile.Outcome)(nil), nil)
		router := setupImportTestRouter(NewImportHandler(svc, nil))

		w := postJSON(router, "/api/v1/imports/commit",
			`{"records":[{"cadastral_number":"39:03:1:1","settlement":"пос. Поддубное"}],"autoResolve":true}`)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("unknown file type", func(t *testing.T) {
		svc := new(MockImporter)
		router := setupImportTestRouter(NewImportHandler(svc, nil))

		w := postJSON(router, "/api/v1/imports/commit", `{"records":[],"scope":"x","fileType":"pdf"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrValidation, decodeError(t, w.Body).Error.Code)
	})
}

func TestImportHandler_CommitFailureEndsStream(t *testing.T) {
	failure := errors.New("failed to load catalog scope: connection refused")
	svc := new(MockImporter)
	svc.On("Commit", mock.Anything, mock.Anything, mock.Anything).
		Run(emitting(progress.Failure(progress.PhaseCommit, failure))).
		Return((*reconcile.Outcome)(nil), failure)

	router := setupImportTestRouter(NewImportHandler(svc, nil))
	w := postJSON(router, "/api/v1/imports/commit", `{"records":[],"scope":"пос. Поддубное"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	events := decodeStream(t, w.Body)
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindError, events[0].Kind)
	assert.Contains(t, events[0].Message, "connection refused")
}

func TestImportHandler_StreamClosesWithoutTerminalEvent(t *testing.T) {
	svc := new(MockImporter)
	svc.On("Preview", mock.Anything, mock.Anything, mock.Anything).
		Run(emitting(progress.Start(progress.PhasePreview, 1, "normalizing 1 rows"))).
		Return((*progress.Preview)(nil), context.Canceled)

	router := setupImportTestRouter(NewImportHandler(svc, nil))
	w := postJSON(router, "/api/v1/imports/preview", `{"rows":[{"a":1}]}`)

	events := decodeStream(t, w.Body)
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindStart, events[0].Kind)
}

func TestImportHandler_PanicEndsStreamWithError(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		phase  string
	}{
		{name: "preview", method: "Preview", path: "/api/v1/imports/preview", body: `{"rows":[{"a":1}]}`, phase: progress.PhasePreview},
		{name: "commit", method: "Commit", path: "/api/v1/imports/commit", body: `{"records":[],"scope":"пос. Поддубное"}`, phase: progress.PhaseCommit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockImporter)
			svc.On(tt.method, mock.Anything, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					sink := args.Get(2).(progress.Sink)
					_ = sink.Emit(context.Background(), progress.Start(tt.phase, 1, "started"))
					panic("nil engine")
				})

			router := setupImportTestRouter(NewImportHandler(svc, nil))
			w := postJSON(router, tt.path, tt.body)

			assert.Equal(t, http.StatusOK, w.Code)
			events := decodeStream(t, w.Body)
			require.Len(t, events, 2)
			assert.Equal(t, progress.KindStart, events[0].Kind)
			assert.Equal(t, progress.KindError, events[1].Kind)
			assert.Equal(t, tt.phase, events[1].Phase)
			assert.Contains(t, events[1].Message, "nil engine")
		})
	}
}

func TestImportHandler_Logs(t *testing.T) {
	t.Run("lists logs", func(t *testing.T) {
		svc := new(MockImporter)
		svc.On("Logs", mock.Anything, 5).Return([]models.ImportLog{{ID: "log-1", Scope: "пос. Поддубное", AddedCount: 2}}, nil)
		router := setupImportTestRouter(NewImportHandler(svc, nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/imports/logs?limit=5", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response LogsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 1, response.Count)
		assert.Equal(t, "log-1", response.Logs[0].ID)
		svc.AssertExpectations(t)
	})

	t.Run("limit out of range", func(t *testing.T) {
		svc := new(MockImporter)
		router := setupImportTestRouter(NewImportHandler(svc, nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/imports/logs?limit=1000", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrValidation, decodeError(t, w.Body).Error.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		svc := new(MockImporter)
		svc.On("Logs", mock.Anything, 0).Return([]models.ImportLog(nil), errors.New("connection refused"))
		router := setupImportTestRouter(NewImportHandler(svc, nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/imports/logs", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, apierrors.ErrInternalServer, decodeError(t, w.Body).Error.Code)
	})
}
