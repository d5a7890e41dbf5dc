// Пакет dbtest — запуск PostgreSQL в Docker (testcontainers) для
// интеграционных тестов. Тесты пропускаются без TEST_INTEGRATION.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/radiodesk/media-module/internal/config"
)

const (
	dbName     = "radiodesk_test"
	dbUser     = "radiodesk"
	dbPassword = "test-password"
)

// Start поднимает контейнер PostgreSQL и возвращает конфигурацию,
// указывающую на него. Контейнер останавливается в t.Cleanup.
func Start(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("MM_DB_HOST", host)
	t.Setenv("MM_DB_PORT", port.Port())
	t.Setenv("MM_DB_NAME", dbName)
	t.Setenv("MM_DB_USER", dbUser)
	t.Setenv("MM_DB_PASSWORD", dbPassword)
	t.Setenv("MM_DB_SSL_MODE", "disable")
	t.Setenv("MM_JWT_JWKS_URL", "http://localhost:8080/realms/radiodesk/protocol/openid-connect/certs")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}
