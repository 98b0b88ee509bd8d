// health.go — обработчики health endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/nas-service/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexPinger — проверка доступности индекса метаданных.
type IndexPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler реализует /health/live, /health/ready и
// /api/v1/storage/health.
type HealthHandler struct {
	idx    IndexPinger
	health HealthReporter
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(idx IndexPinger, health HealthReporter) *HealthHandler {
	return &HealthHandler{idx: idx, health: health}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяет.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   config.Version,
		"service":   "nas-service",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет индекс и последний результат пробы хранилища.
// Деградация хранилища — 503.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	indexCheck := map[string]any{"status": "ok"}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.idx.Ping(ctx); err != nil {
		indexCheck = map[string]any{
			"status":  statusFail,
			"message": "Индекс недоступен: " + err.Error(),
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	disk := h.health.Last()
	diskCheck := map[string]any{
		"status":     "ok",
		"checked_at": disk.CheckedAt.Format(time.RFC3339),
	}
	if !disk.Healthy {
		diskCheck["status"] = statusFail
		diskCheck["message"] = disk.Reason
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   config.Version,
		"service":   "nas-service",
		"checks": map[string]any{
			"index": indexCheck,
			"disk":  diskCheck,
		},
	})
}

// StorageHealth обрабатывает GET /api/v1/storage/health.
// Всегда 200: деградация — сообщаемое состояние, а не ошибка.
func (h *HealthHandler) StorageHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Last())
}
