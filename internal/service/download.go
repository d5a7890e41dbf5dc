// download.go — скачивание файла: кэш blob → PostgreSQL → ответ клиенту →
// асинхронная запись в журнал скачиваний.
//
// Все ошибки определяются до записи первого байта заголовков. После
// отправки тела запись о скачивании передаётся в DownloadLedger и
// больше не влияет на ответ.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// Значения заголовков ответа.
const (
	downloadCacheControl = "private, max-age=3600"
	headerDownloadTime   = "X-Download-Time"
)

// Prometheus-метрики download.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mm_download_duration_seconds",
		Help:    "Длительность скачивания от начала обработки до отправки тела.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_active_downloads",
		Help: "Количество активных скачиваний.",
	})

	blobCacheBypassTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_blob_cache_bypass_total",
		Help: "Blob, не помещённые в кэш из-за размера.",
	})
)

// BlobReader — чтение метаданных и содержимого файла.
type BlobReader interface {
	GetByID(ctx context.Context, id string) (*model.File, error)
	GetBlob(ctx context.Context, id string) ([]byte, error)
}

// LedgerSink — приёмник записей о скачиваниях (не блокирует вызывающего).
type LedgerSink interface {
	Submit(e *model.DownloadLogEntry)
}

// RequestMeta — сведения о запросе для журнала скачиваний.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Referer   string
}

// DownloadConfig — параметры pipeline.
type DownloadConfig struct {
	// MaxCacheBlobBytes — blob такого размера и больше не кэшируются
	MaxCacheBlobBytes int
	// StoreTimeout — таймаут каждого обращения к хранилищу
	StoreTimeout time.Duration
}

// CachedBlob — содержимое файла в кэше вместе с версией, из которой оно прочитано.
type CachedBlob struct {
	Version int
	Data    []byte
}

// BlobCache — кэш декодированного содержимого по id файла.
type BlobCache = BoundedCache[string, CachedBlob]

// DownloadService — сервис скачивания файлов.
type DownloadService struct {
	files  BlobReader
	blobs  *BlobCache
	ledger LedgerSink
	cfg    DownloadConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewDownloadService создаёт сервис скачивания.
func NewDownloadService(
	files BlobReader,
	blobs *BlobCache,
	ledger LedgerSink,
	cfg DownloadConfig,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		files:  files,
		blobs:  blobs,
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// Download выполняет скачивание файла fileID для principal.
//
// Pipeline:
//  1. Проверка субъекта (nil → ErrAuthRequired)
//  2. Поиск blob в кэше
//  3. Чтение метаданных (всегда) и blob (при промахе)
//  4. Кэширование blob, если он меньше порога
//  5. Заголовки и тело ответа
//  6. Передача записи в журнал (без ожидания)
//
// Возвращаемая ошибка означает, что в w ничего не записано.
func (ds *DownloadService) Download(
	ctx context.Context,
	w http.ResponseWriter,
	fileID string,
	principal *model.Principal,
	meta RequestMeta,
) error {
	start := ds.now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	if principal == nil || principal.ID == "" {
		downloadsTotal.WithLabelValues("unauthorized").Inc()
		return ErrAuthRequired
	}

	file, blob, err := ds.load(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			downloadsTotal.WithLabelValues("not_found").Inc()
		} else {
			downloadsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	elapsed := ds.now().Sub(start)
	h := w.Header()
	h.Set("Content-Type", file.ContentType())
	h.Set("Content-Disposition", ContentDisposition(file.DisplayName()))
	h.Set("Content-Length", strconv.Itoa(len(blob)))
	h.Set("Cache-Control", downloadCacheControl)
	h.Set(headerDownloadTime, fmt.Sprintf("%dms", elapsed.Milliseconds()))
	w.WriteHeader(http.StatusOK)

	written, writeErr := w.Write(blob)
	status := model.DownloadCompleted
	if writeErr != nil {
		// Заголовки уже отправлены — только логируем
		status = model.DownloadInterrupted
		ds.logger.Warn("Скачивание прервано",
			slog.String("file_id", fileID),
			slog.Int("bytes_written", written),
			slog.String("error", writeErr.Error()),
		)
		downloadsTotal.WithLabelValues("interrupted").Inc()
	} else {
		downloadsTotal.WithLabelValues("success").Inc()
	}

	duration := ds.now().Sub(start)
	downloadDuration.Observe(duration.Seconds())
	downloadBytesTotal.Add(float64(written))

	ds.ledger.Submit(&model.DownloadLogEntry{
		ID:                 uuid.New().String(),
		FileID:             file.ID,
		UserID:             principal.ID,
		UserEmail:          principal.Email,
		UserName:           principal.Name,
		UserRole:           principal.Role,
		IPAddress:          meta.IPAddress,
		UserAgent:          meta.UserAgent,
		DownloadSize:       int64(written),
		DownloadDurationMs: duration.Milliseconds(),
		DownloadStatus:     status,
		Entity:             file.Entity,
		RefererPage:        meta.Referer,
		DownloadedAt:       start,
	})

	ds.logger.Debug("Скачивание завершено",
		slog.String("file_id", fileID),
		slog.Int("bytes", written),
		slog.Duration("duration", duration),
	)
	return nil
}

// load возвращает метаданные и содержимое файла.
func (ds *DownloadService) load(ctx context.Context, fileID string) (*model.File, []byte, error) {
	cached, hit := ds.blobs.Get(fileID)

	file, err := ds.getMetadata(ctx, fileID)
	if err != nil {
		if hit && errors.Is(err, ErrNotFound) {
			// Файл удалён в обход сервиса — убираем устаревший blob
			ds.blobs.Delete(fileID)
		}
		return nil, nil, err
	}

	// Запись другой версии могла попасть в кэш из запроса, начатого до замены содержимого.
	if hit && cached.Version == file.Version && int64(len(cached.Data)) == file.FileSize {
		return file, cached.Data, nil
	}

	blob, err := ds.getBlob(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrBlobMissing) || errors.Is(err, ErrDataCorrupted) {
			ds.logger.Error("Нарушена целостность содержимого файла",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil, err
	}

	if len(blob) < ds.cfg.MaxCacheBlobBytes {
		ds.blobs.Set(fileID, CachedBlob{Version: file.Version, Data: blob})
	} else {
		blobCacheBypassTotal.Inc()
	}
	return file, blob, nil
}

func (ds *DownloadService) getMetadata(ctx context.Context, fileID string) (*model.File, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.cfg.StoreTimeout)
	defer cancel()

	f, err := ds.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, storeError("получение метаданных файла", err)
	}
	return f, nil
}

func (ds *DownloadService) getBlob(ctx context.Context, fileID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.cfg.StoreTimeout)
	defer cancel()

	blob, err := ds.files.GetBlob(ctx, fileID)
	if err != nil {
		return nil, storeError("получение содержимого файла", err)
	}
	return blob, nil
}

// ContentDisposition формирует заголовок вложения с процентным
// кодированием имени (RFC 5987) в обоих параметрах.
func ContentDisposition(name string) string {
	enc := percentEncode(name)
	return `attachment; filename="` + enc + `"; filename*=UTF-8''` + enc
}

// percentEncode кодирует всё, кроме attr-char из RFC 5987.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
