// Пакет index — персистентный индекс метаданных файлов на SQLite.
//
// Таблица files хранит соответствие filename → storage_path → uploaded_at.
// Схема создаётся миграциями (golang-migrate, встроенные SQL-файлы).
//
// Все изменяющие вызовы (Insert, Delete*) сериализуются мьютексом и
// коммитятся до возврата. Чтения выполняются параллельно друг с другом.
// CopyTo удерживает блокировку чтения, поэтому копия файла индекса
// всегда соответствует целиком закоммиченному состоянию.
package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite" // драйвер миграций sqlite (modernc)
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // регистрирует database/sql драйвер "sqlite"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout — формат хранения uploaded_at (UTC, точность — секунда).
const timeLayout = time.RFC3339

// Index — персистентный индекс метаданных.
type Index struct {
	// mu — эксклюзивная блокировка для записи, разделяемая для чтения и копирования
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open открывает (или создаёт) индекс по указанному пути,
// применяет миграции и проверяет подключение.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию индекса: %w", err)
	}

	if err := Migrate(path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия индекса %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("индекс %s недоступен: %w", path, err)
	}

	idx := &Index{
		db:     db,
		path:   path,
		logger: logger.With(slog.String("component", "index")),
	}

	count, err := idx.Count(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx.logger.Info("Индекс метаданных открыт",
		slog.String("path", path),
		slog.Int("files", count),
	)

	return idx, nil
}

// Migrate применяет SQL-миграции из embedded FS к файлу индекса.
func Migrate(path string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Debug("Миграции индекса применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// dsn формирует строку подключения modernc sqlite.
// journal_mode=DELETE: после коммита основной файл целиком
// содержит актуальное состояние, что позволяет копировать его как снимок.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(DELETE)" +
		"&_pragma=synchronous(FULL)"
}

// Insert добавляет запись и возвращает назначенный id.
// Заполняет rec.ID. Запись закоммичена к моменту возврата.
func (idx *Index) Insert(ctx context.Context, rec *model.FileRecord) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	res, err := idx.db.ExecContext(ctx,
		`INSERT INTO files (filename, storage_path, uploaded_at) VALUES (?, ?, ?)`,
		rec.Filename, rec.StoragePath, rec.UploadedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка вставки записи %s: %w", model.ErrStorageFault, rec.Filename, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка получения id: %w", model.ErrStorageFault, err)
	}
	rec.ID = id

	return id, nil
}

// FindByFilename возвращает первую (по id) запись с указанным именем.
func (idx *Index) FindByFilename(ctx context.Context, filename string) (*model.FileRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	row := idx.db.QueryRowContext(ctx,
		`SELECT id, filename, storage_path, uploaded_at FROM files
		 WHERE filename = ? ORDER BY id LIMIT 1`, filename)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: файл %q", model.ErrNotFound, filename)
		}
		return nil, fmt.Errorf("%w: ошибка поиска %q: %w", model.ErrStorageFault, filename, err)
	}
	return rec, nil
}

// FindByPath возвращает запись по пути хранения.
func (idx *Index) FindByPath(ctx context.Context, storagePath string) (*model.FileRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	row := idx.db.QueryRowContext(ctx,
		`SELECT id, filename, storage_path, uploaded_at FROM files WHERE storage_path = ?`,
		storagePath)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: путь %q", model.ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("%w: ошибка поиска пути %q: %w", model.ErrStorageFault, storagePath, err)
	}
	return rec, nil
}

// ListAll возвращает все записи в порядке вставки.
func (idx *Index) ListAll(ctx context.Context) ([]*model.FileRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, filename, storage_path, uploaded_at FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения индекса: %w", model.ErrStorageFault, err)
	}
	defer rows.Close()

	records := make([]*model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: ошибка чтения строки индекса: %w", model.ErrStorageFault, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения индекса: %w", model.ErrStorageFault, err)
	}

	return records, nil
}

// DeleteByFilename удаляет все записи с указанным именем.
// Возвращает количество удалённых записей или ErrNotFound, если ничего не удалено.
func (idx *Index) DeleteByFilename(ctx context.Context, filename string) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	res, err := idx.db.ExecContext(ctx, `DELETE FROM files WHERE filename = ?`, filename)
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка удаления %q: %w", model.ErrStorageFault, filename, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка удаления %q: %w", model.ErrStorageFault, filename, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: файл %q", model.ErrNotFound, filename)
	}
	return n, nil
}

// DeleteByPath удаляет запись с указанным путём хранения.
// Возвращает ErrNotFound, если запись не найдена.
func (idx *Index) DeleteByPath(ctx context.Context, storagePath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	res, err := idx.db.ExecContext(ctx, `DELETE FROM files WHERE storage_path = ?`, storagePath)
	if err != nil {
		return fmt.Errorf("%w: ошибка удаления пути %q: %w", model.ErrStorageFault, storagePath, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: ошибка удаления пути %q: %w", model.ErrStorageFault, storagePath, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: путь %q", model.ErrNotFound, storagePath)
	}
	return nil
}

// Count возвращает количество записей в индексе.
func (idx *Index) Count(ctx context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var n int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: ошибка подсчёта записей: %w", model.ErrStorageFault, err)
	}
	return n, nil
}

// CopyTo копирует файл индекса в w как есть.
// На время копирования изменения индекса блокируются, поэтому копия
// никогда не бывает частичной.
func (idx *Index) CopyTo(w io.Writer) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	f, err := os.Open(idx.path)
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка открытия файла индекса: %w", model.ErrStorageFault, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("%w: ошибка копирования файла индекса: %w", model.ErrStorageFault, err)
	}
	return n, nil
}

// Ping проверяет доступность индекса.
func (idx *Index) Ping(ctx context.Context) error {
	return idx.db.PingContext(ctx)
}

// Path возвращает путь к файлу индекса.
func (idx *Index) Path() string {
	return idx.path
}

// Close закрывает подключение к индексу.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord читает одну строку таблицы files.
func scanRecord(s rowScanner) (*model.FileRecord, error) {
	var (
		rec        model.FileRecord
		uploadedAt string
	)
	if err := s.Scan(&rec.ID, &rec.Filename, &rec.StoragePath, &uploadedAt); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("некорректная дата загрузки %q: %w", uploadedAt, err)
	}
	rec.UploadedAt = t.UTC()

	return &rec, nil
}
