package model

import "time"

// DownloadStatus — итог попытки скачивания.
type DownloadStatus string

const (
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadInterrupted DownloadStatus = "interrupted"
)

// Principal — аутентифицированный субъект запроса.
// Поставляется JWT middleware; сам сервис учётными записями не управляет.
type Principal struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// DownloadLogEntry — запись журнала скачиваний (append-only).
type DownloadLogEntry struct {
	ID                 string
	FileID             string
	UserID             string
	UserEmail          string
	UserName           string
	UserRole           string
	IPAddress          string
	UserAgent          string
	DownloadSize       int64
	DownloadDurationMs int64
	DownloadStatus     DownloadStatus
	Entity             EntityRef
	RefererPage        string
	DownloadedAt       time.Time
}
