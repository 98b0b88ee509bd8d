// system.go — обработчик GET /api/v1/info (информация о сервисе).
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/nas-service/internal/api/errors"
	"github.com/bigkaa/goartstore/nas-service/internal/config"
	"github.com/bigkaa/goartstore/nas-service/internal/service"
)

// DiskUsageFunc возвращает ёмкость файловой системы директории данных.
type DiskUsageFunc func(path string) (total, used, available int64, err error)

// capacityInfo — ёмкость диска с данными.
type capacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// storageInfo — ответ GET /api/v1/info.
type storageInfo struct {
	Service  string               `json:"service"`
	Version  string               `json:"version"`
	Files    int                  `json:"files"`
	DataDir  string               `json:"data_dir"`
	Capacity *capacityInfo        `json:"capacity,omitempty"`
	Backup   service.BackupStatus `json:"backup"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	catalog   Catalog
	backups   Backups
	dataDir   string
	diskUsage DiskUsageFunc
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil: тогда ёмкость не сообщается.
func NewSystemHandler(catalog Catalog, backups Backups, dataDir string, diskUsage DiskUsageFunc, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		catalog:   catalog,
		backups:   backups,
		dataDir:   dataDir,
		diskUsage: diskUsage,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

// GetStorageInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetStorageInfo(w http.ResponseWriter, r *http.Request) {
	count, err := h.catalog.Count(r.Context())
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}

	resp := storageInfo{
		Service: "nas-service",
		Version: config.Version,
		Files:   count,
		DataDir: h.dataDir,
		Backup:  h.backups.Status(),
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage(h.dataDir)
		if err != nil {
			h.logger.Warn("Не удалось получить ёмкость диска",
				slog.String("error", err.Error()),
			)
		} else {
			resp.Capacity = &capacityInfo{
				TotalBytes:     total,
				UsedBytes:      used,
				AvailableBytes: available,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
