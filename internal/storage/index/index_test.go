package index

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// setupIndex создаёт индекс во временной директории.
func setupIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta", "files.db")
	idx, err := Open(context.Background(), path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

// createTestRecord создаёт запись с уникальным путём хранения.
func createTestRecord(filename string, n int) *model.FileRecord {
	return &model.FileRecord{
		Filename:    filename,
		StoragePath: fmt.Sprintf("%s_20250101120000_%08d", filename, n),
		UploadedAt:  time.Date(2025, 1, 1, 12, 0, n, 0, time.UTC),
	}
}

// TestOpen_Empty проверяет создание пустого индекса и файла на диске.
func TestOpen_Empty(t *testing.T) {
	idx := setupIndex(t)

	n, err := idx.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", n)
	}
	if _, err := os.Stat(idx.Path()); err != nil {
		t.Errorf("файл индекса не создан: %v", err)
	}
}

// TestInsert_AssignsIncreasingIDs проверяет монотонность id.
func TestInsert_AssignsIncreasingIDs(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	r1 := createTestRecord("a.txt", 1)
	r2 := createTestRecord("b.txt", 2)

	id1, err := idx.Insert(ctx, r1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := idx.Insert(ctx, r2)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if id2 <= id1 {
		t.Errorf("id должны возрастать: %d, %d", id1, id2)
	}
	if r1.ID != id1 || r2.ID != id2 {
		t.Errorf("ID не записан в запись: %d/%d, %d/%d", r1.ID, id1, r2.ID, id2)
	}
}

// TestInsert_DuplicatePath проверяет уникальность storage_path.
func TestInsert_DuplicatePath(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	if _, err := idx.Insert(ctx, createTestRecord("a.txt", 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := idx.Insert(ctx, createTestRecord("a.txt", 1))
	if !errors.Is(err, model.ErrStorageFault) {
		t.Errorf("ожидалась ErrStorageFault, получено %v", err)
	}
}

// TestFindByFilename проверяет поиск и выбор первой записи при дубликатах.
func TestFindByFilename(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	first := createTestRecord("report.pdf", 1)
	second := createTestRecord("report.pdf", 2)
	idx.Insert(ctx, first)
	idx.Insert(ctx, second)

	got, err := idx.FindByFilename(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("FindByFilename: %v", err)
	}
	if got.StoragePath != first.StoragePath {
		t.Errorf("ожидалась первая запись %q, получена %q", first.StoragePath, got.StoragePath)
	}
	if !got.UploadedAt.Equal(first.UploadedAt) {
		t.Errorf("UploadedAt = %v, ожидалось %v", got.UploadedAt, first.UploadedAt)
	}

	_, err = idx.FindByFilename(ctx, "missing.pdf")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestFindByPath проверяет поиск по пути хранения.
func TestFindByPath(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	rec := createTestRecord("a.txt", 1)
	idx.Insert(ctx, rec)

	got, err := idx.FindByPath(ctx, rec.StoragePath)
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if got.Filename != "a.txt" {
		t.Errorf("Filename = %q, ожидался %q", got.Filename, "a.txt")
	}

	_, err = idx.FindByPath(ctx, "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestListAll_Order проверяет порядок вставки.
func TestListAll_Order(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	names := []string{"c.txt", "a.txt", "b.txt"}
	for i, name := range names {
		if _, err := idx.Insert(ctx, createTestRecord(name, i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	list, err := idx.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(list) != len(names) {
		t.Fatalf("ожидалось %d записей, получено %d", len(names), len(list))
	}
	for i, rec := range list {
		if rec.Filename != names[i] {
			t.Errorf("[%d] Filename = %q, ожидался %q", i, rec.Filename, names[i])
		}
	}
}

// TestListAll_Empty проверяет, что пустой индекс даёт пустой (не nil) список.
func TestListAll_Empty(t *testing.T) {
	idx := setupIndex(t)

	list, err := idx.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("ожидался пустой список, получено %v", list)
	}
}

// TestDeleteByFilename проверяет удаление всех записей с именем.
func TestDeleteByFilename(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	idx.Insert(ctx, createTestRecord("dup.txt", 1))
	idx.Insert(ctx, createTestRecord("dup.txt", 2))
	idx.Insert(ctx, createTestRecord("keep.txt", 3))

	n, err := idx.DeleteByFilename(ctx, "dup.txt")
	if err != nil {
		t.Fatalf("DeleteByFilename: %v", err)
	}
	if n != 2 {
		t.Errorf("ожидалось удаление 2 записей, удалено %d", n)
	}

	count, _ := idx.Count(ctx)
	if count != 1 {
		t.Errorf("ожидалась 1 запись, получено %d", count)
	}

	_, err = idx.DeleteByFilename(ctx, "dup.txt")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
}

// TestDeleteByPath проверяет удаление одной записи по пути.
func TestDeleteByPath(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	first := createTestRecord("dup.txt", 1)
	second := createTestRecord("dup.txt", 2)
	idx.Insert(ctx, first)
	idx.Insert(ctx, second)

	if err := idx.DeleteByPath(ctx, first.StoragePath); err != nil {
		t.Fatalf("DeleteByPath: %v", err)
	}

	got, err := idx.FindByFilename(ctx, "dup.txt")
	if err != nil {
		t.Fatalf("FindByFilename: %v", err)
	}
	if got.StoragePath != second.StoragePath {
		t.Errorf("должна остаться вторая запись, получена %q", got.StoragePath)
	}

	if err := idx.DeleteByPath(ctx, first.StoragePath); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestReopen_Persists проверяет сохранность данных после переоткрытия.
func TestReopen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.db")
	ctx := context.Background()

	idx, err := Open(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	idx.Insert(ctx, createTestRecord("persist.txt", 1))
	idx.Close()

	idx2, err := Open(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("повторный Open: %v", err)
	}
	defer idx2.Close()

	got, err := idx2.FindByFilename(ctx, "persist.txt")
	if err != nil {
		t.Fatalf("запись потеряна после переоткрытия: %v", err)
	}
	if got.ID != 1 {
		t.Errorf("ID = %d, ожидался 1", got.ID)
	}
}

// TestCopyTo_ValidSnapshot проверяет, что копия — рабочая база с теми же записями.
func TestCopyTo_ValidSnapshot(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	idx.Insert(ctx, createTestRecord("a.txt", 1))
	idx.Insert(ctx, createTestRecord("b.txt", 2))

	var buf bytes.Buffer
	n, err := idx.CopyTo(&buf)
	if err != nil {
		t.Fatalf("CopyTo: %v", err)
	}
	if n == 0 || int64(buf.Len()) != n {
		t.Fatalf("некорректный размер копии: n=%d, len=%d", n, buf.Len())
	}

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.db")
	if err := os.WriteFile(snapshotPath, buf.Bytes(), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	db, err := sql.Open("sqlite", snapshotPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&count); err != nil {
		t.Fatalf("запрос к копии: %v", err)
	}
	if count != 2 {
		t.Errorf("в копии ожидалось 2 записи, получено %d", count)
	}
}

// TestConcurrentInsertAndCopy проверяет параллельные вставки и копирование.
func TestConcurrentInsertAndCopy(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := idx.Insert(ctx, createTestRecord("c.txt", n)); err != nil {
				t.Errorf("Insert %d: %v", n, err)
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf bytes.Buffer
			if _, err := idx.CopyTo(&buf); err != nil {
				t.Errorf("CopyTo: %v", err)
			}
		}()
	}
	wg.Wait()

	count, _ := idx.Count(ctx)
	if count != 20 {
		t.Errorf("ожидалось 20 записей, получено %d", count)
	}
}
