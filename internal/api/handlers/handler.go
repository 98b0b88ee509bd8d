// Пакет handlers — HTTP-обработчики NAS-сервиса.
// Тонкая транспортная оболочка над CatalogService и BackupScheduler:
// разбор запросов, вызов ядра, перевод ошибок в HTTP-коды.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
	"github.com/bigkaa/goartstore/nas-service/internal/service"
)

// Catalog — операции каталога файлов, используемые обработчиками.
type Catalog interface {
	Register(ctx context.Context, filename string, content io.Reader) (*model.FileRecord, error)
	List(ctx context.Context) ([]*model.FileRecord, error)
	Open(ctx context.Context, filename string) (*os.File, *model.FileRecord, error)
	Remove(ctx context.Context, filename string) error
	Count(ctx context.Context) (int, error)
}

// Backups — операции планировщика снимков.
type Backups interface {
	BackupNow(ctx context.Context) (string, error)
	SetPeriodic(seconds int) error
	CancelPeriodic()
	Status() service.BackupStatus
}

// HealthReporter — источник последнего статуса хранилища.
type HealthReporter interface {
	Last() model.HealthStatus
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
