// files.go — работа с файлами сущности: список области (с мемоизацией),
// поиск по имени/тегу, загрузка, изменение метаданных, замена содержимого
// и удаление. Любая мутация инвалидирует мемоизированные списки сущности,
// а замена или удаление содержимого — запись в кэше blob.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

// Ограничения поиска.
const (
	// MinSearchQueryLen — более короткие запросы дают пустой результат без обращения к БД
	MinSearchQueryLen = 2
	searchLimit       = 50
)

// Prometheus-метрики поиска и загрузки.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_search_total",
		Help: "Общее количество поисковых запросов, дошедших до БД.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mm_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_uploads_total",
		Help: "Загрузки файлов по результату (ok, invalid, error).",
	}, []string{"result"})
)

// UploadInput — данные загружаемого файла.
type UploadInput struct {
	Entity       model.EntityRef
	FolderID     *string
	OriginalName string
	MimeType     string
	Tags         []string
	Description  *string
	AccessLevel  model.AccessLevel
	UploadedBy   string
	Data         []byte
}

// FileService — сервис файлов.
type FileService struct {
	files     repository.FileRepository
	folders   repository.FolderRepository
	blobs     *BlobCache
	memo      *ResponseMemo
	maxUpload int64
	logger    *slog.Logger
}

// NewFileService создаёт сервис файлов.
func NewFileService(
	files repository.FileRepository,
	folders repository.FolderRepository,
	blobs *BlobCache,
	memo *ResponseMemo,
	maxUpload int64,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:     files,
		folders:   folders,
		blobs:     blobs,
		memo:      memo,
		maxUpload: maxUpload,
		logger:    logger.With(slog.String("component", "file_service")),
	}
}

// List возвращает файлы области в порядке sort_order.
// Результат мемоизируется; мутации области сбрасывают его.
func (s *FileService) List(ctx context.Context, scope model.Scope) ([]*model.File, error) {
	if err := validateEntity(scope.Entity); err != nil {
		return nil, err
	}

	key := fileListKey(scope)
	if v, ok := s.memo.Get(key); ok {
		if files, ok := v.([]*model.File); ok {
			return files, nil
		}
	}

	files, err := s.files.ListByScope(ctx, scope)
	if err != nil {
		return nil, storeError("получение списка файлов", err)
	}
	s.memo.Set(key, files)
	return files, nil
}

// Search ищет файлы по подстроке имени или тега.
// Запросы короче MinSearchQueryLen возвращают пустой список.
func (s *FileService) Search(ctx context.Context, query string, entity *model.EntityRef) ([]*model.File, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchQueryLen {
		return []*model.File{}, nil
	}
	if entity != nil {
		if err := validateEntity(*entity); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	searchTotal.Inc()

	files, err := s.files.Search(ctx, repository.SearchParams{
		Query:  query,
		Entity: entity,
		Limit:  searchLimit,
	})
	if err != nil {
		return nil, storeError("поиск файлов", err)
	}

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())
	s.logger.Debug("Поиск выполнен",
		slog.String("query", query),
		slog.Int("returned", len(files)),
		slog.Duration("duration", duration),
	)
	return files, nil
}

// Get возвращает метаданные файла.
func (s *FileService) Get(ctx context.Context, id string) (*model.File, error) {
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("получение метаданных файла", err)
	}
	return f, nil
}

// Upload сохраняет новый файл в конец его области.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (*model.File, error) {
	if err := s.validateUpload(ctx, in); err != nil {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	id := uuid.New().String()
	f := &model.File{
		ID:           id,
		Filename:     id + strings.ToLower(filepath.Ext(in.OriginalName)),
		OriginalName: in.OriginalName,
		MimeType:     in.MimeType,
		Entity:       in.Entity,
		FolderID:     in.FolderID,
		UploadedBy:   in.UploadedBy,
		Tags:         normalizeTags(in.Tags),
		Description:  in.Description,
		AccessLevel:  in.AccessLevel,
	}
	if f.AccessLevel == "" {
		f.AccessLevel = model.AccessPrivate
	}

	if err := s.files.Create(ctx, f, in.Data); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("загрузка файла: папка: %w", ErrNotFound)
		}
		s.logger.Error("Ошибка сохранения файла",
			slog.String("entity", in.Entity.String()),
			slog.String("original_name", in.OriginalName),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	invalidateEntity(s.memo, f.Entity)
	uploadsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Файл загружен",
		slog.String("file_id", f.ID),
		slog.String("entity", f.Entity.String()),
		slog.Int64("size", f.FileSize),
	)
	return f, nil
}

func (s *FileService) validateUpload(ctx context.Context, in UploadInput) error {
	if err := validateEntity(in.Entity); err != nil {
		return err
	}
	if strings.TrimSpace(in.OriginalName) == "" {
		return fmt.Errorf("%w: пустое имя файла", ErrValidation)
	}
	if in.UploadedBy == "" {
		return ErrAuthRequired
	}
	if s.maxUpload > 0 && int64(len(in.Data)) > s.maxUpload {
		return fmt.Errorf("%w: размер %d превышает лимит %d", ErrValidation, len(in.Data), s.maxUpload)
	}
	if in.AccessLevel != "" && !in.AccessLevel.Valid() {
		return fmt.Errorf("%w: уровень доступа %q", ErrValidation, in.AccessLevel)
	}
	if in.FolderID != nil {
		return s.checkFolder(ctx, in.Entity, *in.FolderID)
	}
	return nil
}

// checkFolder проверяет, что папка существует и принадлежит сущности.
func (s *FileService) checkFolder(ctx context.Context, entity model.EntityRef, folderID string) error {
	folder, err := s.folders.GetByID(ctx, folderID)
	if err != nil {
		return storeError("проверка папки", err)
	}
	if folder.Entity != entity {
		return fmt.Errorf("%w: папка %s принадлежит %s", ErrValidation, folderID, folder.Entity)
	}
	return nil
}

// Update изменяет метаданные файла.
func (s *FileService) Update(ctx context.Context, id string, upd repository.FileUpdate) (*model.File, error) {
	if upd.OriginalName != nil && strings.TrimSpace(*upd.OriginalName) == "" {
		return nil, fmt.Errorf("%w: пустое имя файла", ErrValidation)
	}
	if upd.AccessLevel != nil && !upd.AccessLevel.Valid() {
		return nil, fmt.Errorf("%w: уровень доступа %q", ErrValidation, *upd.AccessLevel)
	}
	if upd.Tags != nil {
		tags := normalizeTags(*upd.Tags)
		upd.Tags = &tags
	}

	f, err := s.files.Update(ctx, id, upd)
	if err != nil {
		return nil, storeError("обновление файла", err)
	}
	invalidateEntity(s.memo, f.Entity)
	return f, nil
}

// ReplaceContent заменяет содержимое файла (version + 1) и
// вытесняет устаревший blob из кэша.
func (s *FileService) ReplaceContent(ctx context.Context, id string, repl repository.BlobReplacement) (*model.File, error) {
	if s.maxUpload > 0 && int64(len(repl.Data)) > s.maxUpload {
		return nil, fmt.Errorf("%w: размер %d превышает лимит %d", ErrValidation, len(repl.Data), s.maxUpload)
	}

	f, err := s.files.ReplaceBlob(ctx, id, repl)
	s.blobs.Delete(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, storeError("замена содержимого", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	invalidateEntity(s.memo, f.Entity)
	s.logger.Info("Содержимое файла заменено",
		slog.String("file_id", id),
		slog.Int("version", f.Version),
		slog.Int64("size", f.FileSize),
	)
	return f, nil
}

// Delete удаляет файл, его blob из кэша и мемоизированные списки сущности.
func (s *FileService) Delete(ctx context.Context, id string) error {
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return storeError("удаление файла", err)
	}
	if err := s.files.Delete(ctx, id); err != nil {
		return storeError("удаление файла", err)
	}

	s.blobs.Delete(id)
	invalidateEntity(s.memo, f.Entity)
	s.logger.Info("Файл удалён",
		slog.String("file_id", id),
		slog.String("entity", f.Entity.String()),
	)
	return nil
}

// ClearCaches очищает оба кэша (DELETE /downloads/cache).
func (s *FileService) ClearCaches() {
	s.blobs.Clear()
	s.memo.Clear()
	s.logger.Info("Кэши очищены")
}

// CacheStats возвращает состояние кэшей blob и мемоизации.
func (s *FileService) CacheStats() (blob, memo CacheStats) {
	return s.blobs.Stats(), s.memo.Stats()
}

func validateEntity(e model.EntityRef) error {
	if !e.Kind.Valid() || e.ID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, model.ErrInvalidEntity)
	}
	return nil
}

// normalizeTags убирает пробелы, пустые и повторяющиеся теги.
func normalizeTags(tags []string) []string {
	result := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	return result
}
