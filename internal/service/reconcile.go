// reconcile.go — фоновая сверка файлов на диске с индексом метаданных.
//
// Обнаруживает:
//   - orphan_file: файл на диске без записи в индексе
//   - missing_file: запись в индексе без файла на диске
//
// Исправляет: запись без файла удаляется; файл без записи удаляется,
// если он старше NAS_ORPHAN_GRACE (более свежие файлы могут принадлежать
// выполняющейся загрузке).
//
// Запускается как горутина с периодическим тикером (NAS_RECONCILE_INTERVAL)
// и по запросу через API.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/index"
)

var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nas_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nas_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nas_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// IssueType — тип расхождения.
type IssueType string

const (
	IssueOrphanFile  IssueType = "orphan_file"
	IssueMissingFile IssueType = "missing_file"
)

// ReconcileIssue — одно обнаруженное расхождение.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	StoragePath string    `json:"storage_path"`
	// Filename — отображаемое имя (только для missing_file)
	Filename    string `json:"filename,omitempty"`
	Description string `json:"description"`
	// Repaired — расхождение исправлено в этом запуске
	Repaired bool `json:"repaired"`
}

// ReconcileSummary — сводка по запуску.
type ReconcileSummary struct {
	Ok           int `json:"ok"`
	OrphanFiles  int `json:"orphan_files"`
	MissingFiles int `json:"missing_files"`
	Repaired     int `json:"repaired"`
}

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	catalog  *CatalogService
	store    *filestore.FileStore
	idx      *index.Index
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}

	now func() time.Time
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	catalog *CatalogService,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		catalog:  catalog,
		store:    catalog.store,
		idx:      catalog.idx,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "reconcile")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину сверки.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("orphan_grace", rs.grace.String()),
	)
}

// Stop останавливает фоновую сверку и дожидается выхода горутины.
func (rs *ReconcileService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.cancel = nil
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := rs.RunOnce(ctx); err != nil {
				rs.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true, nil.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := rs.now().UTC()
	rs.logger.Info("Сверка начата")

	issues, checked, err := rs.reconcile(ctx)
	if err != nil {
		return nil, false, err
	}

	completedAt := rs.now().UTC()

	summary := ReconcileSummary{}
	for _, issue := range issues {
		switch issue.Type {
		case IssueOrphanFile:
			summary.OrphanFiles++
		case IssueMissingFile:
			summary.MissingFiles++
		}
		if issue.Repaired {
			summary.Repaired++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	summary.Ok = checked - summary.MissingFiles
	if summary.Ok < 0 {
		summary.Ok = 0
	}

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(completedAt.Sub(startedAt).Seconds())

	if summary.Repaired > 0 {
		if err := rs.catalog.RefreshMetrics(ctx); err != nil {
			rs.logger.Warn("Не удалось обновить метрику количества файлов",
				slog.String("error", err.Error()),
			)
		}
	}

	rs.logger.Info("Сверка завершена",
		slog.Int("files_checked", checked),
		slog.Int("orphan_files", summary.OrphanFiles),
		slog.Int("missing_files", summary.MissingFiles),
		slog.Int("repaired", summary.Repaired),
		slog.Duration("duration", completedAt.Sub(startedAt)),
	)

	return &ReconcileResult{
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		FilesChecked: checked,
		Issues:       issues,
		Summary:      summary,
	}, false, nil
}

// reconcile сравнивает индекс с содержимым диска. Индекс читается
// раньше диска: файл, загруженный между двумя чтениями, выглядит как
// свежий orphan_file и защищён grace-периодом, но никогда не как
// missing_file.
func (rs *ReconcileService) reconcile(ctx context.Context) ([]ReconcileIssue, int, error) {
	records, err := rs.idx.ListAll(ctx)
	if err != nil {
		return nil, 0, err
	}

	entries, err := rs.store.ListEntries()
	if err != nil {
		return nil, 0, err
	}

	onDisk := make(map[string]filestore.Entry, len(entries))
	for _, e := range entries {
		onDisk[e.Name] = e
	}

	issues := make([]ReconcileIssue, 0)
	indexed := make(map[string]bool, len(records))

	for _, rec := range records {
		indexed[rec.StoragePath] = true
		if _, ok := onDisk[rec.StoragePath]; ok {
			continue
		}
		if rs.store.Exists(rec.StoragePath) {
			continue
		}

		issue := ReconcileIssue{
			Type:        IssueMissingFile,
			StoragePath: rec.StoragePath,
			Filename:    rec.Filename,
			Description: "Запись в индексе без файла на диске",
		}

		err := rs.catalog.dropRecord(ctx, rec)
		switch {
		case err == nil:
			issue.Repaired = true
			rs.logger.Warn("Удалена запись индекса без файла",
				slog.String("filename", rec.Filename),
				slog.String("storage_path", rec.StoragePath),
			)
		case errors.Is(err, model.ErrNotFound), errors.Is(err, errPathBusy):
			// Файл удаляется или уже удалён параллельным Remove
			continue
		default:
			rs.logger.Error("Не удалось удалить запись индекса без файла",
				slog.String("storage_path", rec.StoragePath),
				slog.String("error", err.Error()),
			)
		}
		issues = append(issues, issue)
	}

	now := rs.now()
	for _, e := range entries {
		if indexed[e.Name] || rs.catalog.isInFlight(e.Name) {
			continue
		}
		// Запись могла появиться после чтения индекса
		if _, err := rs.idx.FindByPath(ctx, e.Name); err == nil {
			continue
		}

		issue := ReconcileIssue{
			Type:        IssueOrphanFile,
			StoragePath: e.Name,
			Description: "Файл на диске без записи в индексе",
		}

		if now.Sub(e.ModTime) >= rs.grace {
			if err := rs.store.Remove(e.Name); err != nil && !errors.Is(err, model.ErrNotFound) {
				rs.logger.Error("Не удалось удалить файл без записи",
					slog.String("storage_path", e.Name),
					slog.String("error", err.Error()),
				)
			} else {
				issue.Repaired = true
				rs.logger.Warn("Удалён файл без записи в индексе",
					slog.String("storage_path", e.Name),
					slog.Time("mod_time", e.ModTime),
				)
			}
		}
		issues = append(issues, issue)
	}

	return issues, len(records), nil
}
