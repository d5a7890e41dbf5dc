package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/routes"
)

// stubAPI реализует только health и скачивание; остальные методы
// вызывают панику через nil-интерфейс.
type stubAPI struct {
	routes.ServerInterface
}

func (s *stubAPI) HealthLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *stubAPI) DownloadFile(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set("X-Request-Id", chimw.GetReqID(r.Context()))
	_, _ = w.Write([]byte(id))
}

// denyAll — auth middleware, отклоняющий запросы без заголовка Authorization.
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			apierrors.Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(api *stubAPI) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(logger, api, denyAll)
}

// TestNewRouter_PublicHealth — health доступен без аутентификации.
func TestNewRouter_PublicHealth(t *testing.T) {
	router := newTestRouter(&stubAPI{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, ожидался 200", rec.Code)
	}
}

// TestNewRouter_APIRequiresAuth — /api/v1 проходит через auth middleware.
func TestNewRouter_APIRequiresAuth(t *testing.T) {
	router := newTestRouter(&stubAPI{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/f1/download", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, ожидался 401", rec.Code)
	}
}

// TestNewRouter_RoleCheckWithoutClaims — auth пропустил, но claims нет: 401 от RBAC.
func TestNewRouter_RoleCheckWithoutClaims(t *testing.T) {
	api := &stubAPI{}
	router := newTestRouter(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/f1/download", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, ожидался 401", rec.Code)
	}
}

// TestNewRouter_RecoversPanic — паника обработчика превращается в 500.
func TestNewRouter_RecoversPanic(t *testing.T) {
	router := newTestRouter(&stubAPI{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, ожидался 500", rec.Code)
	}
}

// TestNewRouter_NotFound — неизвестный путь.
func TestNewRouter_NotFound(t *testing.T) {
	router := newTestRouter(&stubAPI{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, ожидался 404", rec.Code)
	}
}
