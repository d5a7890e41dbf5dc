package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// DownloadLogRepository — запись в журнал скачиваний (append-only).
type DownloadLogRepository interface {
	Insert(ctx context.Context, e *model.DownloadLogEntry) error
}

type downloadLogRepo struct {
	db DBTX
}

// NewDownloadLogRepository создаёт репозиторий журнала скачиваний.
func NewDownloadLogRepository(db DBTX) DownloadLogRepository {
	return &downloadLogRepo{db: db}
}

// Insert добавляет запись. Связи с files нет: запись переживает удаление файла.
func (r *downloadLogRepo) Insert(ctx context.Context, e *model.DownloadLogEntry) error {
	query := `
		INSERT INTO download_logs (
			id, file_id, user_id, user_email, user_name, user_role,
			ip_address, user_agent, download_size, download_duration_ms,
			download_status, entity_type, entity_id, referer_page, downloaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.FileID, e.UserID, e.UserEmail, e.UserName, e.UserRole,
		e.IPAddress, e.UserAgent, e.DownloadSize, e.DownloadDurationMs,
		string(e.DownloadStatus), string(e.Entity.Kind), e.Entity.ID, e.RefererPage, e.DownloadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка записи в журнал скачиваний: %w", err)
	}
	return nil
}
