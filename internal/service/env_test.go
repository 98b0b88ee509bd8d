package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/nas-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/index"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/wal"
)

// testEnv — окружение сервисных тестов на временной директории.
type testEnv struct {
	root    string
	store   *filestore.FileStore
	idx     *index.Index
	journal *wal.WAL
	catalog *CatalogService
	logger  *slog.Logger
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTestEnv создаёт FileStore, индекс, WAL и каталог во временной директории.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	logger := testLogger()

	store, err := filestore.New(filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}

	idx, err := index.Open(context.Background(), filepath.Join(root, "files.db"), logger)
	if err != nil {
		t.Fatalf("Ошибка открытия индекса: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	journal, err := wal.New(filepath.Join(root, "wal"), logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}

	catalog := NewCatalogService(store, idx, journal, NewResolveCache(64, time.Minute), logger)

	return &testEnv{
		root:    root,
		store:   store,
		idx:     idx,
		journal: journal,
		catalog: catalog,
		logger:  logger,
	}
}

// failIndexWrites запрещает операцию op (INSERT или DELETE) над таблицей
// files через триггер в отдельном подключении. Возвращает функцию,
// снимающую запрет.
func failIndexWrites(t *testing.T, env *testEnv, op string) func() {
	t.Helper()

	db, err := sql.Open("sqlite", env.idx.Path())
	if err != nil {
		t.Fatalf("Ошибка открытия индекса: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	trigger := "deny_" + op
	stmt := fmt.Sprintf(
		"CREATE TRIGGER %s BEFORE %s ON files BEGIN SELECT RAISE(ABORT, 'запись в индекс запрещена'); END",
		trigger, op,
	)
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("Ошибка создания триггера: %v", err)
	}

	return func() {
		t.Helper()
		if _, err := db.Exec("DROP TRIGGER " + trigger); err != nil {
			t.Fatalf("Ошибка удаления триггера: %v", err)
		}
	}
}
