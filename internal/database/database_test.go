package database

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/bigkaa/radiodesk/media-module/internal/database/dbtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := dbtest.Start(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if got := pool.Config().MaxConns; got != cfg.DBMaxConns {
		t.Errorf("MaxConns = %d, ожидали %d", got, cfg.DBMaxConns)
	}
}

// TestMigrate проверяет применение, повторное применение и откат миграций.
func TestMigrate(t *testing.T) {
	cfg := dbtest.Start(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — ErrNoChange не считается ошибкой
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"files", "folders", "download_logs"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	// Некорректный тип сущности отклоняется CHECK-ограничением
	_, err = pool.Exec(ctx, `
		INSERT INTO files (id, filename, original_name, file_size, entity_type, entity_id, uploaded_by)
		VALUES ('x', 'x', 'x', 0, 'invoices', '1', 'u')`)
	if err == nil {
		t.Error("ожидали ошибку CHECK для entity_type = invoices")
	}

	if err := MigrateDown(cfg, logger); err != nil {
		t.Fatalf("MigrateDown() вернул ошибку: %v", err)
	}
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := dbtest.Start(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}

	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали ok", status, msg)
	}

	pool.Close()
	if status, _ := checker.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() после Close = %q, ожидали fail", status)
	}
}
