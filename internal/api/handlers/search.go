// search.go — обработчик GET /api/v1/files/search.
// Поиск по подстроке имени файла или тега, опционально в пределах сущности.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/routes"
	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// SearchFiles — GET /api/v1/files/search?q=&entityType=&entityId=.
// Короткий запрос даёт пустой список, а не ошибку.
func (h *APIHandler) SearchFiles(w http.ResponseWriter, r *http.Request, params routes.SearchFilesParams) {
	entity, err := searchEntity(params)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	files, err := h.files.Search(r.Context(), params.Q, entity)
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files})
}

// searchEntity разбирает необязательную пару entityType/entityId.
// Указан только один из параметров — ошибка.
func searchEntity(params routes.SearchFilesParams) (*model.EntityRef, error) {
	entityType := emptyIfBlank(params.EntityType)
	entityID := emptyIfBlank(params.EntityId)
	if entityType == nil && entityID == nil {
		return nil, nil
	}

	var kind, id string
	if entityType != nil {
		kind = *entityType
	}
	if entityID != nil {
		id = *entityID
	}
	entity, err := model.NewEntityRef(kind, id)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}
