// backup.go — снимки индекса метаданных: по запросу и по расписанию.
//
// Снимок — побайтовая копия файла индекса в NAS_BACKUP_DIR с именем
// backup_{unix_ts}_{uuid8}.db. Снимки никогда не изменяются и не удаляются
// сервисом.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/index"
)

var (
	backupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nas_backups_total",
		Help: "Общее количество снимков индекса",
	}, []string{"trigger", "result"})

	backupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nas_backup_duration_seconds",
		Help:    "Длительность создания снимка индекса в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

const (
	triggerManual   = "manual"
	triggerPeriodic = "periodic"
)

// BackupStatus — состояние планировщика снимков.
type BackupStatus struct {
	// Active — включено ли периодическое создание снимков
	Active bool `json:"active"`
	// IntervalSeconds — период (0, если расписание выключено)
	IntervalSeconds int `json:"interval_seconds"`
	// LastSnapshot — путь к последнему успешному снимку
	LastSnapshot string `json:"last_snapshot,omitempty"`
	// LastBackupAt — время последнего успешного снимка
	LastBackupAt *time.Time `json:"last_backup_at,omitempty"`
	// LastError — ошибка последней попытки (пусто при успехе)
	LastError string `json:"last_error,omitempty"`
}

// BackupScheduler создаёт снимки индекса по запросу и по расписанию.
// Снимки сериализуются: два снимка одновременно не создаются.
type BackupScheduler struct {
	idx       *index.Index
	backupDir string
	logger    *slog.Logger

	// backupMu сериализует создание снимков
	backupMu sync.Mutex

	// schedMu защищает периодический таймер
	schedMu  sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration

	// stateMu защищает результаты последней попытки
	stateMu      sync.Mutex
	lastSnapshot string
	lastBackupAt time.Time
	lastErr      string

	now func() time.Time
}

// NewBackupScheduler создаёт планировщик. Директория снимков создаётся
// при необходимости.
func NewBackupScheduler(idx *index.Index, backupDir string, logger *slog.Logger) (*BackupScheduler, error) {
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию снимков %s: %w", backupDir, err)
	}
	abs, err := filepath.Abs(backupDir)
	if err != nil {
		return nil, fmt.Errorf("не удалось определить путь %s: %w", backupDir, err)
	}

	return &BackupScheduler{
		idx:       idx,
		backupDir: abs,
		logger:    logger.With(slog.String("component", "backup")),
		now:       time.Now,
	}, nil
}

// BackupNow создаёт снимок индекса и возвращает путь к нему.
// Выполняется до конца даже при отмене ctx вызывающей стороны.
func (b *BackupScheduler) BackupNow(_ context.Context) (string, error) {
	return b.backup(triggerManual)
}

// SetPeriodic включает создание снимков каждые seconds секунд.
// Действующее расписание отменяется и заменяется новым.
func (b *BackupScheduler) SetPeriodic(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: интервал должен быть положительным, получено %d", model.ErrInvalidArgument, seconds)
	}

	b.schedMu.Lock()
	defer b.schedMu.Unlock()

	b.stopLocked()

	interval := time.Duration(seconds) * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	b.cancel = cancel
	b.done = done
	b.interval = interval

	go b.run(ctx, interval, done)

	b.logger.Info("Периодическое создание снимков включено",
		slog.String("interval", interval.String()),
	)
	return nil
}

// CancelPeriodic выключает расписание. Повторный вызов ничего не делает.
func (b *BackupScheduler) CancelPeriodic() {
	b.schedMu.Lock()
	defer b.schedMu.Unlock()

	if b.cancel == nil {
		return
	}
	b.stopLocked()
	b.logger.Info("Периодическое создание снимков выключено")
}

// Status возвращает текущее состояние планировщика.
func (b *BackupScheduler) Status() BackupStatus {
	b.schedMu.Lock()
	status := BackupStatus{
		Active:          b.cancel != nil,
		IntervalSeconds: int(b.interval / time.Second),
	}
	b.schedMu.Unlock()

	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	status.LastSnapshot = b.lastSnapshot
	status.LastError = b.lastErr
	if !b.lastBackupAt.IsZero() {
		at := b.lastBackupAt
		status.LastBackupAt = &at
	}
	return status
}

// Dir возвращает абсолютный путь к директории снимков.
func (b *BackupScheduler) Dir() string {
	return b.backupDir
}

// ParseIntervalSeconds разбирает интервал расписания из строки.
// Нечисловые и неположительные значения отклоняются.
func ParseIntervalSeconds(s string) (int, error) {
	seconds, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: интервал %q не является целым числом", model.ErrInvalidArgument, s)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: интервал должен быть положительным, получено %d", model.ErrInvalidArgument, seconds)
	}
	return seconds, nil
}

// stopLocked останавливает текущий таймер и дожидается завершения его
// горутины (включая выполняющийся снимок). Вызывается под schedMu.
func (b *BackupScheduler) stopLocked() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done

	b.cancel = nil
	b.done = nil
	b.interval = 0
}

// run — цикл периодических снимков. Следующий тик не наступает,
// пока не завершён текущий снимок.
func (b *BackupScheduler) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			// Ошибка уже залогирована и сохранена в статусе
			_, _ = b.backup(triggerPeriodic)
		}
	}
}

// backup копирует файл индекса во временный файл в директории снимков,
// синхронизирует его и атомарно переименовывает в итоговое имя.
func (b *BackupScheduler) backup(trigger string) (string, error) {
	b.backupMu.Lock()
	defer b.backupMu.Unlock()

	start := time.Now()
	now := b.now().UTC()
	name := fmt.Sprintf("backup_%d_%s.db", now.Unix(), uuid.New().String()[:8])
	target := filepath.Join(b.backupDir, name)

	size, err := b.copyIndex(target)
	backupDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		backupsTotal.WithLabelValues(trigger, "error").Inc()
		b.setResult("", time.Time{}, err)
		b.logger.Error("Ошибка создания снимка индекса",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	backupsTotal.WithLabelValues(trigger, "success").Inc()
	b.setResult(target, now, nil)
	b.logger.Info("Снимок индекса создан",
		slog.String("trigger", trigger),
		slog.String("path", target),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)),
	)

	return target, nil
}

func (b *BackupScheduler) copyIndex(target string) (int64, error) {
	tmpPath := target + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка создания файла снимка: %w", model.ErrStorageFault, err)
	}

	size, err := b.idx.CopyTo(f)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка fsync снимка: %w", model.ErrStorageFault, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка закрытия снимка: %w", model.ErrStorageFault, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка переименования снимка: %w", model.ErrStorageFault, err)
	}

	return size, nil
}

func (b *BackupScheduler) setResult(path string, at time.Time, err error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if err != nil {
		b.lastErr = err.Error()
		return
	}
	b.lastSnapshot = path
	b.lastBackupAt = at
	b.lastErr = ""
}
