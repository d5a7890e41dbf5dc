// Пакет model — доменные модели Media Module.
// File — маппинг таблицы files, Folder — таблицы folders,
// DownloadLogEntry — таблицы download_logs.
package model

import "time"

// AccessLevel — уровень доступа к файлу.
type AccessLevel string

const (
	AccessPrivate    AccessLevel = "private"
	AccessRestricted AccessLevel = "restricted"
	AccessPublic     AccessLevel = "public"
)

// Valid проверяет, что значение входит в допустимый набор.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessPrivate, AccessRestricted, AccessPublic:
		return true
	}
	return false
}

// DefaultMimeType — MIME-тип по умолчанию для файлов без сохранённого типа.
const DefaultMimeType = "application/octet-stream"

// File — метаданные сохранённого бинарного ассета.
// Сам blob в структуру не входит: он читается отдельно через GetBlob
// и принадлежит только PostgreSQL (кэш лишь зеркалирует байты).
type File struct {
	// ID — уникальный идентификатор (UUID при создании)
	ID string `json:"id"`
	// Filename — имя в хранилище
	Filename string `json:"filename"`
	// OriginalName — отображаемое имя (используется в Content-Disposition)
	OriginalName string `json:"originalName"`
	// MimeType — MIME-тип; пустая строка означает "не указан"
	MimeType string `json:"mimeType"`
	// FileSize — размер в байтах, равен длине декодированного blob
	FileSize int64 `json:"fileSize"`
	// Entity — полиморфная связь с бизнес-объектом
	Entity EntityRef `json:"-"`
	// FolderID — папка внутри сущности (nil — корень)
	FolderID *string `json:"folderId"`
	// UploadedBy — идентификатор загрузившего (sub из JWT)
	UploadedBy string `json:"uploadedBy"`
	// Tags — теги, порядок не важен
	Tags []string `json:"tags"`
	// Description — описание (опционально)
	Description *string `json:"description,omitempty"`
	// Version — версия, увеличивается при повторной загрузке содержимого
	Version int `json:"version"`
	// IsArchived — признак архивации
	IsArchived bool `json:"isArchived"`
	// AccessLevel — private, restricted, public
	AccessLevel AccessLevel `json:"accessLevel"`
	// DownloadCount — количество скачиваний, только растёт
	DownloadCount int64 `json:"downloadCount"`
	// LastAccessedAt — время последнего скачивания
	LastAccessedAt *time.Time `json:"lastAccessedAt"`
	// SortOrder — позиция в своём Scope
	SortOrder int `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Scope возвращает область упорядочивания файла.
func (f *File) Scope() Scope {
	return Scope{Entity: f.Entity, FolderID: f.FolderID}
}

// ContentType возвращает MIME-тип с подстановкой значения по умолчанию.
func (f *File) ContentType() string {
	if f.MimeType == "" {
		return DefaultMimeType
	}
	return f.MimeType
}

// DisplayName возвращает имя для скачивания: originalName, иначе filename.
func (f *File) DisplayName() string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return f.Filename
}
