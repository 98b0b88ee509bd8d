// Пакет filestore — операции с физическими файлами на диске.
// Обеспечивает атомарную запись (temp → fsync → rename), чтение,
// удаление, перечисление содержимого и пробу работоспособности диска.
package filestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
)

const (
	// probeFileName — имя служебного файла пробы здоровья.
	probeFileName = ".health_probe"
	// tmpSuffix — суффикс временных файлов незавершённой записи.
	tmpSuffix = ".tmp"
)

// probeContent — эталонное содержимое файла пробы.
var probeContent = []byte("nas-service health probe")

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (NAS_DATA_DIR)
	dataDir string
	// probeMu — сериализует пробы здоровья (проба пишет в хранилище)
	probeMu sync.Mutex
}

// Entry — файл данных в корневой директории хранилища.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Write записывает данные из reader в файл storagePath (создаёт или перезаписывает).
// Возвращает количество записанных байт.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется, ошибка оборачивает model.ErrStorageFault.
func (fs *FileStore) Write(storagePath string, reader io.Reader) (int64, error) {
	if err := validateName(storagePath); err != nil {
		return 0, err
	}

	fullPath := filepath.Join(fs.dataDir, storagePath)
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка создания временного файла: %w", model.ErrStorageFault, err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка записи данных: %w", model.ErrStorageFault, err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка fsync: %w", model.ErrStorageFault, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка закрытия файла: %w", model.ErrStorageFault, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: ошибка атомарного переименования: %w", model.ErrStorageFault, err)
	}

	return size, nil
}

// Open открывает файл для чтения (copy-out).
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(storagePath string) (*os.File, error) {
	if err := validateName(storagePath); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(fs.dataDir, storagePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: файл %s", model.ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("%w: ошибка открытия файла %s: %w", model.ErrStorageFault, storagePath, err)
	}

	return f, nil
}

// Remove удаляет файл с диска.
// Отсутствие файла возвращается как model.ErrNotFound:
// вызывающий код сам решает, считать ли это успехом.
func (fs *FileStore) Remove(storagePath string) error {
	if err := validateName(storagePath); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(fs.dataDir, storagePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: файл %s", model.ErrNotFound, storagePath)
		}
		return fmt.Errorf("%w: ошибка удаления файла %s: %w", model.ErrStorageFault, storagePath, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(storagePath string) bool {
	_, err := os.Stat(filepath.Join(fs.dataDir, storagePath))
	return err == nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storagePath string) string {
	full := filepath.Join(fs.dataDir, storagePath)
	if abs, err := filepath.Abs(full); err == nil {
		return abs
	}
	return full
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// ListEntries возвращает файлы данных в корне хранилища.
// Служебные (скрытые) и временные файлы пропускаются.
func (fs *FileStore) ListEntries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения директории %s: %w", model.ErrStorageFault, fs.dataDir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}

		info, err := de.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		entries = append(entries, Entry{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}

// HealthCheck записывает служебный файл, читает его обратно,
// сверяет содержимое побайтно и удаляет файл.
// Любая ошибка или несовпадение даёт Degraded с причиной.
//
// Проба синхронная и пишет в хранилище, параллельные вызовы сериализуются.
func (fs *FileStore) HealthCheck() model.HealthStatus {
	fs.probeMu.Lock()
	defer fs.probeMu.Unlock()

	now := time.Now().UTC()
	probePath := filepath.Join(fs.dataDir, probeFileName)

	if err := os.WriteFile(probePath, probeContent, 0o600); err != nil {
		return model.Degraded("ошибка записи пробы: "+err.Error(), now)
	}

	data, err := os.ReadFile(probePath)
	if err != nil {
		_ = os.Remove(probePath)
		return model.Degraded("ошибка чтения пробы: "+err.Error(), now)
	}

	if err := os.Remove(probePath); err != nil {
		return model.Degraded("ошибка удаления пробы: "+err.Error(), now)
	}

	if !bytes.Equal(data, probeContent) {
		return model.Degraded("содержимое пробы не совпадает с записанным", now)
	}

	return model.Healthy(now)
}

// StorageName генерирует имя файла для хранения на диске.
// Формат: {name}_{timestamp}_{uuid}.{ext}
// Пример: report_20260221150405_a1b2c3d4.pdf
//
// Единое правило для всех точек входа: имя, переданное клиентом,
// никогда не используется как ключ хранения напрямую.
func StorageName(originalFilename string, now time.Time) string {
	base := filepath.Base(originalFilename)
	ext := sanitizeExt(filepath.Ext(base))
	name := sanitize(strings.TrimSuffix(base, filepath.Ext(base)))

	// Ограничиваем длину имени для предотвращения проблем с FS
	if r := []rune(name); len(r) > 50 {
		name = string(r[:50])
	}

	ts := now.UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s%s", name, ts, uid, ext)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет расширение только из букв и цифр (".tar.gz" → ".gz").
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var result strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 || result.Len() > 16 {
		return ""
	}
	return "." + result.String()
}

// validateName запрещает пути, выходящие за корень хранилища.
func validateName(storagePath string) error {
	if storagePath == "" || storagePath == "." || storagePath == ".." ||
		strings.ContainsAny(storagePath, `/\`) {
		return fmt.Errorf("%w: недопустимое имя файла хранилища %q", model.ErrInvalidArgument, storagePath)
	}
	return nil
}
