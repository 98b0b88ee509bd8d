// Пакет service — бизнес-логика NAS-сервиса.
// catalog.go — каталог файлов: согласованная работа FileStore и индекса.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/nas-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/index"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/wal"
)

// maxNameAttempts — число попыток подобрать свободное имя на диске.
const maxNameAttempts = 8

// CatalogService — операции Register, List, Resolve, Remove.
//
// Порядок шагов:
//   - Register: файл на диск, затем запись в индекс
//   - Remove: файл с диска, затем запись из индекса
//
// Сбой между шагами оставляет только файл без записи, но не запись без
// файла. Каждая операция предварительно журналируется в WAL, и
// RecoverJournal доводит прерванные операции при старте.
type CatalogService struct {
	store   *filestore.FileStore
	idx     *index.Index
	journal *wal.WAL
	cache   *ResolveCache
	logger  *slog.Logger

	// mu защищает inFlight — имена на диске, занятые выполняющимися
	// Register и Remove
	mu       sync.Mutex
	inFlight map[string]struct{}

	// cacheMu исключает запись в кэш устаревшей записи во время удаления
	cacheMu sync.RWMutex

	now func() time.Time
}

// NewCatalogService создаёт каталог файлов.
func NewCatalogService(
	store *filestore.FileStore,
	idx *index.Index,
	journal *wal.WAL,
	cache *ResolveCache,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		store:    store,
		idx:      idx,
		journal:  journal,
		cache:    cache,
		logger:   logger.With(slog.String("component", "catalog")),
		inFlight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Register принимает файл: записывает содержимое под уникальным именем
// на диске и добавляет запись в индекс. После успешного возврата
// Resolve(filename) сразу находит файл.
//
// Выполняется до конца даже при отмене ctx вызывающей стороны.
func (s *CatalogService) Register(ctx context.Context, filename string, content io.Reader) (*model.FileRecord, error) {
	ctx = context.WithoutCancel(ctx)

	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: пустое имя файла", model.ErrInvalidArgument)
	}

	uploadedAt := s.now().UTC().Truncate(time.Second)

	storagePath, err := s.reservePath(filename, uploadedAt)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, err
	}
	defer s.releasePath(storagePath)

	entry, err := s.journal.Begin(wal.OpRegister, filename, storagePath)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("%w: %w", model.ErrStorageFault, err)
	}

	size, err := s.store.Write(storagePath, content)
	if err != nil {
		// Временный файл удалён FileStore, восстанавливать нечего
		s.commit(entry)
		middleware.OperationsTotal.WithLabelValues("register", "error").Inc()
		s.logger.Error("Ошибка записи файла",
			slog.String("filename", filename),
			slog.String("storage_path", storagePath),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	rec := &model.FileRecord{
		Filename:    filename,
		StoragePath: storagePath,
		UploadedAt:  uploadedAt,
	}
	if _, err := s.idx.Insert(ctx, rec); err != nil {
		// Файл остаётся сиротой; WAL-запись не коммитится, файл будет
		// удалён при восстановлении или сверкой
		middleware.OperationsTotal.WithLabelValues("register", "error").Inc()
		s.logger.Error("Ошибка записи в индекс, файл остался без записи",
			slog.String("filename", filename),
			slog.String("storage_path", storagePath),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.commit(entry)

	middleware.OperationsTotal.WithLabelValues("register", "success").Inc()
	middleware.FilesTotal.Inc()

	s.logger.Info("Файл загружен",
		slog.Int64("id", rec.ID),
		slog.String("filename", filename),
		slog.String("storage_path", storagePath),
		slog.Int64("size", size),
	)

	return rec, nil
}

// List возвращает все записи в порядке загрузки. Диск не читается.
func (s *CatalogService) List(ctx context.Context) ([]*model.FileRecord, error) {
	records, err := s.idx.ListAll(ctx)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("list", "error").Inc()
		return nil, err
	}
	middleware.OperationsTotal.WithLabelValues("list", "success").Inc()
	return records, nil
}

// Resolve возвращает абсолютный путь к файлу по его имени.
// При нескольких записях с одним именем возвращается первая.
func (s *CatalogService) Resolve(ctx context.Context, filename string) (string, error) {
	rec, err := s.lookup(ctx, filename)
	if err != nil {
		return "", err
	}
	return s.store.FullPath(rec.StoragePath), nil
}

// Open открывает файл на чтение для выдачи клиенту.
// Вызывающий обязан закрыть файл.
func (s *CatalogService) Open(ctx context.Context, filename string) (*os.File, *model.FileRecord, error) {
	rec, err := s.lookup(ctx, filename)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, nil, err
	}

	f, err := s.store.Open(rec.StoragePath)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.cache.Delete(filename)
			s.logger.Warn("Запись индекса ссылается на отсутствующий файл",
				slog.String("filename", filename),
				slog.String("storage_path", rec.StoragePath),
			)
		}
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, nil, err
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return f, rec, nil
}

// Remove удаляет файл с диска и его запись из индекса.
//
// Отсутствие файла на диске не является ошибкой: запись индекса всё равно
// удаляется. Если тот же файл удаляется параллельно, успешен только один
// вызов, остальные получают ErrNotFound.
func (s *CatalogService) Remove(ctx context.Context, filename string) error {
	ctx = context.WithoutCancel(ctx)

	rec, err := s.idx.FindByFilename(ctx, filename)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("remove", resultLabel(err)).Inc()
		return err
	}

	// Путь занят до удаления записи: сверка не трогает запись, а
	// параллельный Remove того же файла получает ErrNotFound
	if !s.claimPath(rec.StoragePath) {
		middleware.OperationsTotal.WithLabelValues("remove", "not_found").Inc()
		return fmt.Errorf("%w: файл %q уже удаляется", model.ErrNotFound, filename)
	}
	defer s.releasePath(rec.StoragePath)

	entry, err := s.journal.Begin(wal.OpRemove, filename, rec.StoragePath)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("remove", "error").Inc()
		return fmt.Errorf("%w: %w", model.ErrStorageFault, err)
	}

	if err := s.store.Remove(rec.StoragePath); err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.commit(entry)
			middleware.OperationsTotal.WithLabelValues("remove", "error").Inc()
			return err
		}
		s.logger.Warn("Файл уже отсутствует на диске, удаляется только запись индекса",
			slog.String("filename", filename),
			slog.String("storage_path", rec.StoragePath),
		)
	}

	s.cacheMu.Lock()
	err = s.idx.DeleteByPath(ctx, rec.StoragePath)
	s.cache.Delete(filename)
	s.cacheMu.Unlock()

	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.commit(entry)
			middleware.OperationsTotal.WithLabelValues("remove", "not_found").Inc()
			return err
		}
		// Файл удалён, запись осталась. WAL-запись не коммитится:
		// устаревшая запись будет удалена при восстановлении или сверкой
		middleware.OperationsTotal.WithLabelValues("remove", "error").Inc()
		s.logger.Error("Файл удалён, но запись индекса осталась",
			slog.String("filename", filename),
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.commit(entry)

	middleware.OperationsTotal.WithLabelValues("remove", "success").Inc()
	middleware.FilesTotal.Dec()

	s.logger.Info("Файл удалён",
		slog.Int64("id", rec.ID),
		slog.String("filename", filename),
		slog.String("storage_path", rec.StoragePath),
	)

	return nil
}

// HealthCheck выполняет пробу файлового хранилища.
func (s *CatalogService) HealthCheck() model.HealthStatus {
	return s.store.HealthCheck()
}

// Count возвращает количество записей в индексе.
func (s *CatalogService) Count(ctx context.Context) (int, error) {
	return s.idx.Count(ctx)
}

// RefreshMetrics синхронизирует gauge nas_files_total с индексом.
func (s *CatalogService) RefreshMetrics(ctx context.Context) error {
	n, err := s.idx.Count(ctx)
	if err != nil {
		return err
	}
	middleware.FilesTotal.Set(float64(n))
	return nil
}

// RecoverJournal доводит операции, прерванные аварийной остановкой.
// Вызывается при старте до приёма запросов. Возвращает количество
// обработанных записей журнала.
//
//   - register без записи индекса: файл-сирота удаляется
//   - remove без файла на диске: устаревшая запись индекса удаляется
func (s *CatalogService) RecoverJournal(ctx context.Context) (int, error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range pending {
		log := s.logger.With(
			slog.String("tx_id", entry.TxID),
			slog.String("operation", string(entry.Operation)),
			slog.String("storage_path", entry.StoragePath),
		)

		switch entry.Operation {
		case wal.OpRegister:
			_, err := s.idx.FindByPath(ctx, entry.StoragePath)
			switch {
			case err == nil:
				log.Info("Незавершённая загрузка фактически завершена")
			case errors.Is(err, model.ErrNotFound):
				if rmErr := s.store.Remove(entry.StoragePath); rmErr != nil && !errors.Is(rmErr, model.ErrNotFound) {
					return recovered, rmErr
				}
				log.Warn("Удалён файл незавершённой загрузки")
			default:
				return recovered, err
			}

		case wal.OpRemove:
			if s.store.Exists(entry.StoragePath) {
				log.Info("Незавершённое удаление не затронуло файл, запись сохранена")
				break
			}
			if err := s.idx.DeleteByPath(ctx, entry.StoragePath); err != nil && !errors.Is(err, model.ErrNotFound) {
				return recovered, err
			}
			log.Warn("Удалена запись индекса незавершённого удаления")

		default:
			log.Warn("Неизвестная операция в журнале, запись отброшена")
		}

		if err := s.journal.Commit(entry); err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		s.cache.Purge()
		s.logger.Info("Восстановление журнала завершено",
			slog.Int("recovered", recovered),
		)
	}

	return recovered, nil
}

// lookup находит первую запись по имени, используя кэш.
func (s *CatalogService) lookup(ctx context.Context, filename string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(filename); ok {
		return rec, nil
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	rec, err := s.idx.FindByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}
	s.cache.Set(filename, rec)
	return rec, nil
}

// errPathBusy — путь занят выполняющимся Register или Remove.
var errPathBusy = errors.New("путь занят выполняющейся операцией")

// dropRecord удаляет устаревшую запись индекса (файл уже отсутствует).
// Используется сверкой. Запись файла, который сейчас удаляется через
// Remove, не трогается: возвращается errPathBusy.
func (s *CatalogService) dropRecord(ctx context.Context, rec *model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[rec.StoragePath]; busy {
		return errPathBusy
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if err := s.idx.DeleteByPath(ctx, rec.StoragePath); err != nil {
		return err
	}
	s.cache.Delete(rec.Filename)
	middleware.FilesTotal.Dec()
	return nil
}

// isInFlight сообщает, занято ли имя на диске выполняющимся Register или Remove.
func (s *CatalogService) isInFlight(storagePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[storagePath]
	return ok
}

// reservePath подбирает свободное имя на диске и резервирует его
// до завершения Register.
func (s *CatalogService) reservePath(filename string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxNameAttempts {
		name := filestore.StorageName(filename, now)
		if _, busy := s.inFlight[name]; busy {
			continue
		}
		if s.store.Exists(name) {
			continue
		}
		s.inFlight[name] = struct{}{}
		return name, nil
	}

	return "", fmt.Errorf("%w: не удалось подобрать свободное имя для %q", model.ErrStorageFault, filename)
}

// claimPath занимает путь существующего файла на время Remove.
// Возвращает false, если путь уже занят.
func (s *CatalogService) claimPath(storagePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[storagePath]; busy {
		return false
	}
	s.inFlight[storagePath] = struct{}{}
	return true
}

func (s *CatalogService) releasePath(storagePath string) {
	s.mu.Lock()
	delete(s.inFlight, storagePath)
	s.mu.Unlock()
}

// commit завершает WAL-запись. Ошибка только логируется, оставшаяся
// запись будет обработана RecoverJournal.
func (s *CatalogService) commit(entry *wal.Entry) {
	if err := s.journal.Commit(entry); err != nil {
		s.logger.Error("Ошибка коммита WAL",
			slog.String("tx_id", entry.TxID),
			slog.String("error", err.Error()),
		)
	}
}

// resultLabel возвращает значение лейбла result для метрик.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
