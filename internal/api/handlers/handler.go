// handler.go — основной обработчик API, реализующий routes.ServerInterface.
// Объединяет health и бизнес-обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/routes"
	"github.com/bigkaa/radiodesk/media-module/internal/service"
)

var _ routes.ServerInterface = (*APIHandler)(nil)

// APIHandler — основной обработчик API Media Module.
type APIHandler struct {
	health    *HealthHandler
	downloads *service.DownloadService
	files     *service.FileService
	folders   *service.FolderService
	ordering  *service.OrderingService
	maxUpload int64
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUpload — лимит тела multipart-запроса загрузки в байтах.
func NewAPIHandler(
	health *HealthHandler,
	downloads *service.DownloadService,
	files *service.FileService,
	folders *service.FolderService,
	ordering *service.OrderingService,
	maxUpload int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		downloads: downloads,
		files:     files,
		folders:   folders,
		ordering:  ordering,
		maxUpload: maxUpload,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Неизвестные поля — ошибка.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// notFound — сообщение для 404. Серверные сбои логируются с деталями,
// клиент получает только общее сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, service.ErrAuthRequired):
		apierrors.Unauthorized(w)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, notFound)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrReorderIntegrity):
		apierrors.ReorderMismatch(w, "Набор идентификаторов не совпадает с содержимым области")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Ресурс с таким именем уже существует")
	case errors.Is(err, service.ErrStoreUnavailable):
		h.logger.Error("Хранилище недоступно",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w)
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w)
	}
}

// requestMeta собирает сведения о клиенте для журнала скачиваний.
// RemoteAddr уже нормализован chi RealIP, если запрос прошёл через прокси.
func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.RequestMeta{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
}

// emptyIfBlank превращает указатель на пустую строку в nil.
func emptyIfBlank(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
