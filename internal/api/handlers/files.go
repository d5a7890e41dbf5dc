// files.go — обработчики /api/v1/files: список области, метаданные,
// загрузка, изменение, замена содержимого, удаление и порядок.
// Авторизация (роль или scope) — на уровне middleware в routes.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/middleware"
	"github.com/bigkaa/radiodesk/media-module/internal/api/routes"
	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
	"github.com/bigkaa/radiodesk/media-module/internal/service"
)

const (
	// multipartMemory — часть multipart-формы, которая держится в памяти;
	// остальное net/http сбрасывает во временные файлы.
	multipartMemory = 8 << 20
	// multipartOverhead — запас на заголовки частей и текстовые поля формы.
	multipartOverhead = 1 << 20
)

// filesResponse — ответ со списком файлов.
type filesResponse struct {
	Files []*model.File `json:"files"`
}

// reorderFilesRequest — тело POST /files/reorder.
type reorderFilesRequest struct {
	EntityType string   `json:"entityType"`
	EntityID   string   `json:"entityId"`
	FolderID   *string  `json:"folderId"`
	FileIDs    []string `json:"fileIds"`
}

// updateFileRequest — тело PATCH /files/{id}. Отсутствующее поле не меняется.
type updateFileRequest struct {
	OriginalName *string            `json:"originalName"`
	Tags         *[]string          `json:"tags"`
	Description  *string            `json:"description"`
	IsArchived   *bool              `json:"isArchived"`
	AccessLevel  *model.AccessLevel `json:"accessLevel"`
}

// ListFiles — GET /api/v1/files?entityType=&entityId=&folderId=.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params routes.ListFilesParams) {
	scope := model.Scope{
		Entity:   model.EntityRef{Kind: model.EntityKind(params.EntityType), ID: params.EntityId},
		FolderID: emptyIfBlank(params.FolderId),
	}

	files, err := h.files.List(r.Context(), scope)
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files})
}

// GetFileMetadata — GET /api/v1/files/{id}.
func (h *APIHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request, id string) {
	f, err := h.files.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// UploadFile — POST /api/v1/files (multipart/form-data).
// Поля: file (обязательно), entityType, entityId, folderId, tags
// (повторяющиеся или через запятую), description, accessLevel.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	data, header, ok := h.readMultipartFile(w, r)
	if !ok {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var uploadedBy string
	if p := middleware.PrincipalFromContext(r.Context()); p != nil {
		uploadedBy = p.ID
	}

	form := r.MultipartForm.Value
	in := service.UploadInput{
		Entity:       model.EntityRef{Kind: model.EntityKind(r.FormValue("entityType")), ID: r.FormValue("entityId")},
		FolderID:     emptyIfBlank(formPtr(form, "folderId")),
		OriginalName: header.originalName,
		MimeType:     header.mimeType,
		Tags:         parseTags(form["tags"]),
		Description:  emptyIfBlank(formPtr(form, "description")),
		AccessLevel:  model.AccessLevel(r.FormValue("accessLevel")),
		UploadedBy:   uploadedBy,
		Data:         data,
	}

	f, err := h.files.Upload(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err, "Папка не найдена")
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// UpdateFile — PATCH /api/v1/files/{id}.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request, id string) {
	var req updateFileRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	upd := repository.FileUpdate{
		OriginalName: req.OriginalName,
		Tags:         req.Tags,
		Description:  req.Description,
		IsArchived:   req.IsArchived,
		AccessLevel:  req.AccessLevel,
	}
	if upd.Empty() {
		apierrors.ValidationError(w, "Не указано ни одного изменяемого поля")
		return
	}

	f, err := h.files.Update(r.Context(), id, upd)
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ReplaceFileContent — PUT /api/v1/files/{id}/content (multipart/form-data, поле file).
func (h *APIHandler) ReplaceFileContent(w http.ResponseWriter, r *http.Request, id string) {
	data, header, ok := h.readMultipartFile(w, r)
	if !ok {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, err := h.files.ReplaceContent(r.Context(), id, repository.BlobReplacement{
		Data:         data,
		MimeType:     header.mimeType,
		OriginalName: header.originalName,
	})
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// DeleteFile — DELETE /api/v1/files/{id}. 204 или 404.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.files.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderFiles — POST /api/v1/files/reorder.
// 200 с новым порядком; 409, если набор id не совпадает с областью.
func (h *APIHandler) ReorderFiles(w http.ResponseWriter, r *http.Request) {
	var req reorderFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.FileIDs == nil {
		apierrors.ValidationError(w, "Поле fileIds обязательно")
		return
	}

	scope := model.Scope{
		Entity:   model.EntityRef{Kind: model.EntityKind(req.EntityType), ID: req.EntityID},
		FolderID: emptyIfBlank(req.FolderID),
	}
	files, err := h.ordering.Commit(r.Context(), scope, req.FileIDs)
	if err != nil {
		h.writeServiceError(w, r, err, apierrors.MsgFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files})
}

// --- multipart ---

// uploadedHeader — имя и MIME-тип загруженной части.
type uploadedHeader struct {
	originalName string
	mimeType     string
}

// readMultipartFile читает поле file с ограничением размера.
// При ошибке ответ уже записан и ok == false.
func (h *APIHandler) readMultipartFile(w http.ResponseWriter, r *http.Request) (data []byte, header uploadedHeader, ok bool) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Превышен максимальный размер загрузки")
			return nil, header, false
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data с полем file")
		return nil, header, false
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		apierrors.ValidationError(w, "Отсутствует поле file")
		return nil, header, false
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		apierrors.ValidationError(w, "Не удалось прочитать загруженный файл")
		return nil, header, false
	}
	if h.maxUpload > 0 && int64(len(data)) > h.maxUpload {
		_ = r.MultipartForm.RemoveAll()
		apierrors.PayloadTooLarge(w, "Превышен максимальный размер загрузки")
		return nil, header, false
	}

	header.originalName = fh.Filename
	if name := strings.TrimSpace(r.FormValue("originalName")); name != "" {
		header.originalName = name
	}
	header.mimeType = fh.Header.Get("Content-Type")
	return data, header, true
}

// formPtr возвращает указатель на первое значение поля формы (nil — поля нет).
func formPtr(form map[string][]string, key string) *string {
	if v, ok := form[key]; ok && len(v) > 0 {
		return &v[0]
	}
	return nil
}

// parseTags принимает теги повторяющимися полями и через запятую.
func parseTags(values []string) []string {
	var tags []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}
