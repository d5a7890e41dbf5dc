// folders.go — обработчики /api/v1/folders: дерево папок сущности.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/routes"
	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

const msgFolderNotFound = "Папка не найдена"

// nullableString различает отсутствующее поле, null и строку.
type nullableString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON вызывается только для присутствующего поля, в том числе null.
func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

type foldersResponse struct {
	Folders []*model.Folder `json:"folders"`
}

type createFolderRequest struct {
	EntityType     string  `json:"entityType"`
	EntityID       string  `json:"entityId"`
	ParentFolderID *string `json:"parentFolderId"`
	Name           string  `json:"name"`
	Description    *string `json:"description"`
}

// updateFolderRequest — переименование и/или перенос.
// parentFolderId: null — в корень, отсутствует — без переноса.
type updateFolderRequest struct {
	Name           *string        `json:"name"`
	Description    *string        `json:"description"`
	ParentFolderID nullableString `json:"parentFolderId"`
}

type reorderFoldersRequest struct {
	EntityType     string   `json:"entityType"`
	EntityID       string   `json:"entityId"`
	ParentFolderID *string  `json:"parentFolderId"`
	FolderIDs      []string `json:"folderIds"`
}

type deleteFolderResponse struct {
	FoldersDeleted int64 `json:"foldersDeleted"`
	FilesDetached  int64 `json:"filesDetached"`
}

// ListFolders — GET /api/v1/folders?entityType=&entityId=.
func (h *APIHandler) ListFolders(w http.ResponseWriter, r *http.Request, params routes.ListFoldersParams) {
	entity := model.EntityRef{Kind: model.EntityKind(params.EntityType), ID: params.EntityId}

	folders, err := h.folders.List(r.Context(), entity)
	if err != nil {
		h.writeServiceError(w, r, err, msgFolderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, foldersResponse{Folders: folders})
}

// CreateFolder — POST /api/v1/folders.
func (h *APIHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	entity := model.EntityRef{Kind: model.EntityKind(req.EntityType), ID: req.EntityID}
	f, err := h.folders.Create(r.Context(), entity, emptyIfBlank(req.ParentFolderID), req.Name, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err, "Родительская папка не найдена")
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// UpdateFolder — PATCH /api/v1/folders/{id}.
// Сначала переименование (name/description), затем перенос (parentFolderId).
func (h *APIHandler) UpdateFolder(w http.ResponseWriter, r *http.Request, id string) {
	var req updateFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.Name == nil && req.Description == nil && !req.ParentFolderID.Set {
		apierrors.ValidationError(w, "Не указано ни одного изменяемого поля")
		return
	}

	var (
		folder *model.Folder
		err    error
	)
	if req.Name != nil || req.Description != nil {
		name := ""
		if req.Name != nil {
			name = *req.Name
		} else {
			cur, getErr := h.folders.Get(r.Context(), id)
			if getErr != nil {
				h.writeServiceError(w, r, getErr, msgFolderNotFound)
				return
			}
			name = cur.Name
		}
		if folder, err = h.folders.Rename(r.Context(), id, name, req.Description); err != nil {
			h.writeServiceError(w, r, err, msgFolderNotFound)
			return
		}
	}
	if req.ParentFolderID.Set {
		if folder, err = h.folders.Move(r.Context(), id, emptyIfBlank(req.ParentFolderID.Value)); err != nil {
			h.writeServiceError(w, r, err, msgFolderNotFound)
			return
		}
	}
	writeJSON(w, http.StatusOK, folder)
}

// ReorderFolders — POST /api/v1/folders/reorder. Порядок дочерних папок одного родителя.
func (h *APIHandler) ReorderFolders(w http.ResponseWriter, r *http.Request) {
	var req reorderFoldersRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.FolderIDs == nil {
		apierrors.ValidationError(w, "Поле folderIds обязательно")
		return
	}

	entity := model.EntityRef{Kind: model.EntityKind(req.EntityType), ID: req.EntityID}
	folders, err := h.ordering.CommitFolders(r.Context(), entity, emptyIfBlank(req.ParentFolderID), req.FolderIDs)
	if err != nil {
		h.writeServiceError(w, r, err, msgFolderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, foldersResponse{Folders: folders})
}

// DeleteFolder — DELETE /api/v1/folders/{id}.
// Поддерево папок удаляется, файлы переносятся в корень сущности.
func (h *APIHandler) DeleteFolder(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.folders.Delete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, msgFolderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, deleteFolderResponse{
		FoldersDeleted: res.FoldersDeleted,
		FilesDetached:  res.FilesDetached,
	})
}
