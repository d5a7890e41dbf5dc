// downloads.go — скачивание файла и управление кэшами.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/middleware"
	"github.com/bigkaa/radiodesk/media-module/internal/service"
)

// cacheStatusResponse — ответ GET /downloads/cache/status.
// cacheSize, maxEntries, ttlSeconds относятся к кэшу blob.
type cacheStatusResponse struct {
	CacheSize  int                  `json:"cacheSize"`
	MaxEntries int                  `json:"maxEntries"`
	TTLSeconds int64                `json:"ttlSeconds"`
	Caches     []service.CacheStats `json:"caches"`
}

// DownloadFile — GET /api/v1/files/{id}/download.
// Ошибки сервис возвращает до записи заголовков, поэтому статус ошибки
// всегда можно отправить. После начала тела ответ уже не меняется.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, id string) {
	principal := middleware.PrincipalFromContext(r.Context())

	err := h.downloads.Download(r.Context(), w, id, principal, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
	}
}

// GetCacheStatus — GET /api/v1/downloads/cache/status.
func (h *APIHandler) GetCacheStatus(w http.ResponseWriter, _ *http.Request) {
	blob, memo := h.files.CacheStats()
	writeJSON(w, http.StatusOK, cacheStatusResponse{
		CacheSize:  blob.Size,
		MaxEntries: blob.MaxEntries,
		TTLSeconds: blob.TTLSeconds,
		Caches:     []service.CacheStats{blob, memo},
	})
}

// ClearCache — DELETE /api/v1/downloads/cache. Очищает кэш blob и мемоизацию.
func (h *APIHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.files.ClearCaches()

	var subject string
	if p := middleware.PrincipalFromContext(r.Context()); p != nil {
		subject = p.ID
	}
	h.logger.Info("Кэши очищены по запросу", slog.String("subject", subject))
	w.WriteHeader(http.StatusNoContent)
}
