package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
	"github.com/bigkaa/goartstore/nas-service/internal/service"
)

// fakeCatalog — каталог, возвращающий заданную ошибку.
type fakeCatalog struct {
	err     error
	removed []string
}

func (c *fakeCatalog) Register(_ context.Context, _ string, _ io.Reader) (*model.FileRecord, error) {
	return nil, c.err
}

func (c *fakeCatalog) List(_ context.Context) ([]*model.FileRecord, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []*model.FileRecord{}, nil
}

func (c *fakeCatalog) Open(_ context.Context, _ string) (*os.File, *model.FileRecord, error) {
	return nil, nil, c.err
}

func (c *fakeCatalog) Remove(_ context.Context, filename string) error {
	if c.err != nil {
		return c.err
	}
	c.removed = append(c.removed, filename)
	return nil
}

func (c *fakeCatalog) Count(_ context.Context) (int, error) {
	return 0, c.err
}

type fakeReporter struct {
	status model.HealthStatus
}

func (r fakeReporter) Last() model.HealthStatus { return r.status }

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(_ context.Context) error { return p.err }

type fakeReconciler struct {
	inProgress bool
}

func (f fakeReconciler) RunOnce(_ context.Context) (*service.ReconcileResult, bool, error) {
	if f.inProgress {
		return nil, true, nil
	}
	return &service.ReconcileResult{Issues: []service.ReconcileIssue{}}, false, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// filesRouter монтирует файловые обработчики для разбора URL-параметров.
func filesRouter(catalog Catalog) http.Handler {
	h := NewFilesHandler(catalog, 1024, testLogger())
	r := chi.NewRouter()
	r.Get("/files", h.ListFiles)
	r.Get("/files/{filename}/download", h.DownloadFile)
	r.Delete("/files/{filename}", h.DeleteFile)
	return r
}

func responseCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	return body.Error.Code
}

// TestDownloadFile_NotFound проверяет перевод ErrNotFound в 404.
func TestDownloadFile_NotFound(t *testing.T) {
	catalog := &fakeCatalog{err: fmt.Errorf("%w: нет файла", model.ErrNotFound)}

	rec := httptest.NewRecorder()
	filesRouter(catalog).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/missing.txt/download", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус %d, ожидался 404", rec.Code)
	}
	if code := responseCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("код ошибки = %q", code)
	}
}

// TestDeleteFile_StorageFault проверяет перевод ErrStorageFault в 500.
func TestDeleteFile_StorageFault(t *testing.T) {
	catalog := &fakeCatalog{err: fmt.Errorf("%w: диск недоступен", model.ErrStorageFault)}

	rec := httptest.NewRecorder()
	filesRouter(catalog).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/a.txt", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("статус %d, ожидался 500", rec.Code)
	}
	if code := responseCode(t, rec); code != "STORAGE_FAULT" {
		t.Errorf("код ошибки = %q", code)
	}
}

// TestDeleteFile_DecodesName проверяет передачу имени с пробелом.
func TestDeleteFile_DecodesName(t *testing.T) {
	catalog := &fakeCatalog{}

	rec := httptest.NewRecorder()
	filesRouter(catalog).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/my%20report.txt", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("статус %d, ожидался 204", rec.Code)
	}
	if len(catalog.removed) != 1 || catalog.removed[0] != "my report.txt" {
		t.Errorf("удалено %v, ожидалось [my report.txt]", catalog.removed)
	}
}

// TestListFiles_Empty проверяет пустой список.
func TestListFiles_Empty(t *testing.T) {
	rec := httptest.NewRecorder()
	filesRouter(&fakeCatalog{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}
	var body struct {
		Files []json.RawMessage `json:"files"`
		Total int               `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Files == nil || body.Total != 0 {
		t.Errorf("ожидался пустой массив files, получено %+v", body)
	}
}

// TestReconcile_InProgress проверяет 409 при параллельной сверке.
func TestReconcile_InProgress(t *testing.T) {
	h := NewMaintenanceHandler(fakeReconciler{inProgress: true})

	rec := httptest.NewRecorder()
	h.Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("статус %d, ожидался 409", rec.Code)
	}
	if code := responseCode(t, rec); code != "RECONCILE_IN_PROGRESS" {
		t.Errorf("код ошибки = %q", code)
	}
}

// TestReconcile_OK проверяет успешную сверку.
func TestReconcile_OK(t *testing.T) {
	h := NewMaintenanceHandler(fakeReconciler{})

	rec := httptest.NewRecorder()
	h.Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d, ожидался 200", rec.Code)
	}
}

// TestHealthReady проверяет readiness при разных состояниях.
func TestHealthReady(t *testing.T) {
	healthy := model.HealthStatus{Healthy: true, CheckedAt: time.Now()}
	degraded := model.HealthStatus{Healthy: false, Reason: "диск недоступен", CheckedAt: time.Now()}

	tests := []struct {
		name     string
		pingErr  error
		status   model.HealthStatus
		wantCode int
	}{
		{"всё исправно", nil, healthy, http.StatusOK},
		{"диск деградировал", nil, degraded, http.StatusServiceUnavailable},
		{"индекс недоступен", errors.New("database is closed"), healthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(fakePinger{err: tt.pingErr}, fakeReporter{status: tt.status})

			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус %d, ожидался %d", rec.Code, tt.wantCode)
			}
		})
	}
}

// TestStorageHealth_Degraded проверяет, что деградация сообщается с 200.
func TestStorageHealth_Degraded(t *testing.T) {
	status := model.HealthStatus{Healthy: false, Reason: "нет записи", CheckedAt: time.Now()}
	h := NewHealthHandler(fakePinger{}, fakeReporter{status: status})

	rec := httptest.NewRecorder()
	h.StorageHealth(rec, httptest.NewRequest(http.MethodGet, "/api/v1/storage/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d, ожидался 200", rec.Code)
	}
	var got model.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Healthy || got.Reason != "нет записи" {
		t.Errorf("неожиданный статус: %+v", got)
	}
}
