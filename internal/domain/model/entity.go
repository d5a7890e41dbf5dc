package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// EntityKind — закрытый набор типов бизнес-объектов, к которым
// привязываются файлы и папки. В БД хранится строкой entity_type.
type EntityKind string

const (
	EntityProject EntityKind = "projects"
	EntityEpisode EntityKind = "episodes"
	EntityScript  EntityKind = "scripts"
)

// EntityKinds — все известные типы; Valid проверяет принадлежность этому списку.
var EntityKinds = []EntityKind{EntityProject, EntityEpisode, EntityScript}

// ErrInvalidEntity — неизвестный тип сущности или пустой идентификатор.
var ErrInvalidEntity = errors.New("некорректная сущность")

// Valid проверяет, что тип входит в закрытый набор.
func (k EntityKind) Valid() bool {
	return slices.Contains(EntityKinds, k)
}

// ParseEntityKind разбирает строковое представление типа сущности.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: неизвестный тип %q", ErrInvalidEntity, s)
	}
	return k, nil
}

// EntityRef — полиморфная ссылка (тип, идентификатор) на бизнес-объект.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// NewEntityRef создаёт ссылку на сущность с валидацией.
func NewEntityRef(kind, id string) (EntityRef, error) {
	k, err := ParseEntityKind(kind)
	if err != nil {
		return EntityRef{}, err
	}
	if id == "" {
		return EntityRef{}, fmt.Errorf("%w: пустой entityId", ErrInvalidEntity)
	}
	return EntityRef{Kind: k, ID: id}, nil
}

// String — "episodes/42".
func (e EntityRef) String() string {
	return string(e.Kind) + "/" + e.ID
}

// Scope — область упорядочивания: файлы одной сущности в одной папке
// (FolderID == nil — корень сущности).
type Scope struct {
	Entity   EntityRef
	FolderID *string
}

// Key возвращает строковый ключ области (для кэша мемоизации).
func (s Scope) Key() string {
	folder := "-"
	if s.FolderID != nil {
		folder = *s.FolderID
	}
	return s.Entity.String() + "/" + folder
}

// entityJSON — плоское представление сущности в JSON-ответах.
type entityJSON struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// fileJSON добавляет к File плоские поля entityType/entityId.
type fileJSON struct {
	*fileAlias
	entityJSON
}

type fileAlias File

// MarshalJSON сериализует File с полями entityType и entityId.
func (f *File) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileJSON{
		fileAlias:  (*fileAlias)(f),
		entityJSON: entityJSON{EntityType: string(f.Entity.Kind), EntityID: f.Entity.ID},
	})
}
