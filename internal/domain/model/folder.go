package model

import (
	"encoding/json"
	"time"
)

// FolderPathSeparator — разделитель сегментов материализованного пути.
const FolderPathSeparator = "/"

// Folder — узел дерева папок сущности.
type Folder struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	// ParentFolderID — родитель (nil — корневая папка сущности)
	ParentFolderID *string `json:"parentFolderId"`
	// Entity — полиморфная связь с бизнес-объектом
	Entity EntityRef `json:"-"`
	// FolderPath — материализованный путь "/a/b/c", согласован с цепочкой родителей
	FolderPath string    `json:"folderPath"`
	SortOrder  int       `json:"sortOrder"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ChildPath возвращает путь дочерней папки с именем name.
func ChildPath(parentPath, name string) string {
	return parentPath + FolderPathSeparator + name
}

type folderAlias Folder

// MarshalJSON сериализует Folder с полями entityType и entityId.
func (f *Folder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		*folderAlias
		entityJSON
	}{
		folderAlias: (*folderAlias)(f),
		entityJSON:  entityJSON{EntityType: string(f.Entity.Kind), EntityID: f.Entity.ID},
	})
}
