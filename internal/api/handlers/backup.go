// backup.go — HTTP-обработчики снимков индекса и их расписания.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/goartstore/nas-service/internal/api/errors"
	"github.com/bigkaa/goartstore/nas-service/internal/service"
)

// BackupHandler — обработчик endpoints снимков.
type BackupHandler struct {
	backups Backups
}

// NewBackupHandler создаёт обработчик снимков.
func NewBackupHandler(backups Backups) *BackupHandler {
	return &BackupHandler{backups: backups}
}

// scheduleRequest — тело PUT /api/v1/backups/schedule.
// Интервал принимается числом или строкой; строка разбирается
// ParseIntervalSeconds и должна быть целым положительным числом.
type scheduleRequest struct {
	IntervalSeconds json.RawMessage `json:"interval_seconds"`
}

// CreateBackup обрабатывает POST /api/v1/backups.
func (h *BackupHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	path, err := h.backups.BackupNow(r.Context())
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"snapshot": path,
	})
}

// GetSchedule обрабатывает GET /api/v1/backups/schedule.
func (h *BackupHandler) GetSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backups.Status())
}

// SetSchedule обрабатывает PUT /api/v1/backups/schedule.
func (h *BackupHandler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if len(req.IntervalSeconds) == 0 {
		errors.ValidationError(w, "Поле 'interval_seconds' обязательно")
		return
	}

	raw := string(req.IntervalSeconds)
	var asString string
	if err := json.Unmarshal(req.IntervalSeconds, &asString); err == nil {
		raw = asString
	}

	seconds, err := service.ParseIntervalSeconds(raw)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}

	if err := h.backups.SetPeriodic(seconds); err != nil {
		errors.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.backups.Status())
}

// CancelSchedule обрабатывает DELETE /api/v1/backups/schedule.
func (h *BackupHandler) CancelSchedule(w http.ResponseWriter, _ *http.Request) {
	h.backups.CancelPeriodic()
	writeJSON(w, http.StatusOK, h.backups.Status())
}
