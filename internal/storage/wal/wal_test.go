package wal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func setupWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(filepath.Join(t.TempDir(), "wal"), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}

	info, err := os.Stat(walDir)
	if err != nil {
		t.Fatalf("директория WAL не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("WAL path не является директорией")
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	walDir := filepath.Join(t.TempDir(), "wal")
	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	if _, err := New(walDir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestBegin_PersistsEntry проверяет, что намерение записано на диск.
func TestBegin_PersistsEntry(t *testing.T) {
	w := setupWAL(t)

	entry, err := w.Begin(OpRegister, "report.pdf", "report_20250101120000_abcd1234.pdf")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if entry.TxID == "" {
		t.Error("TxID не должен быть пустым")
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), entryFileName(entry.TxID)))
	if err != nil {
		t.Fatalf("файл WAL-записи не создан: %v", err)
	}

	var stored Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("некорректный JSON: %v", err)
	}
	if stored.Operation != OpRegister {
		t.Errorf("Operation = %q, ожидался %q", stored.Operation, OpRegister)
	}
	if stored.StoragePath != "report_20250101120000_abcd1234.pdf" {
		t.Errorf("StoragePath = %q", stored.StoragePath)
	}
	if stored.Filename != "report.pdf" {
		t.Errorf("Filename = %q", stored.Filename)
	}
}

// TestCommit_RemovesEntry проверяет, что Commit удаляет запись.
func TestCommit_RemovesEntry(t *testing.T) {
	w := setupWAL(t)

	entry, _ := w.Begin(OpRemove, "a.txt", "a_1.txt")
	if err := w.Commit(entry); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pending, err := w.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 незавершённых записей, получено %d", len(pending))
	}

	// Повторный Commit не является ошибкой
	if err := w.Commit(entry); err != nil {
		t.Errorf("повторный Commit: %v", err)
	}
}

// TestPending_ReturnsUncommitted проверяет восстановление незавершённых записей.
func TestPending_ReturnsUncommitted(t *testing.T) {
	w := setupWAL(t)

	e1, _ := w.Begin(OpRegister, "a.txt", "a_1.txt")
	e2, _ := w.Begin(OpRemove, "b.txt", "b_1.txt")
	e3, _ := w.Begin(OpRegister, "c.txt", "c_1.txt")
	w.Commit(e2)

	// Новый экземпляр поверх той же директории (эмуляция рестарта)
	w2, err := New(w.Dir(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pending, err := w2.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(pending))
	}

	ids := map[string]bool{pending[0].TxID: true, pending[1].TxID: true}
	if !ids[e1.TxID] || !ids[e3.TxID] {
		t.Errorf("неожиданный набор записей: %v", ids)
	}
}

// TestPending_SkipsCorrupted проверяет пропуск повреждённых записей.
func TestPending_SkipsCorrupted(t *testing.T) {
	w := setupWAL(t)

	w.Begin(OpRegister, "a.txt", "a_1.txt")
	if err := os.WriteFile(filepath.Join(w.Dir(), "broken"+entrySuffix), []byte("{not json"), 0o640); err != nil {
		t.Fatal(err)
	}

	pending, err := w.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("ожидалась 1 запись, получено %d", len(pending))
	}
}

// TestConcurrentBegin проверяет параллельное создание записей.
func TestConcurrentBegin(t *testing.T) {
	w := setupWAL(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := w.Begin(OpRegister, "f.txt", "f.txt")
			if err != nil {
				t.Errorf("Begin: %v", err)
				return
			}
			if err := w.Commit(entry); err != nil {
				t.Errorf("Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	pending, _ := w.Pending()
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", len(pending))
	}
}
