// Пакет routes — маршрутизация HTTP API Media Module поверх chi.
// Повторяет структуру chi-server oapi-codegen: ServerInterface,
// обёртка с разбором параметров через oapi-codegen/runtime и
// HandlerFromMux для регистрации маршрутов.
package routes

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/radiodesk/media-module/internal/api/errors"
	"github.com/bigkaa/radiodesk/media-module/internal/api/middleware"
)

// APIPrefix — префикс бизнес-маршрутов.
const APIPrefix = "/api/v1"

// ListFilesParams — параметры GET /files.
type ListFilesParams struct {
	EntityType string  `form:"entityType" json:"entityType"`
	EntityId   string  `form:"entityId" json:"entityId"`
	FolderId   *string `form:"folderId,omitempty" json:"folderId,omitempty"`
}

// SearchFilesParams — параметры GET /files/search.
type SearchFilesParams struct {
	Q          string  `form:"q" json:"q"`
	EntityType *string `form:"entityType,omitempty" json:"entityType,omitempty"`
	EntityId   *string `form:"entityId,omitempty" json:"entityId,omitempty"`
}

// ListFoldersParams — параметры GET /folders.
type ListFoldersParams struct {
	EntityType string `form:"entityType" json:"entityType"`
	EntityId   string `form:"entityId" json:"entityId"`
}

// ServerInterface — обработчики всех маршрутов Media Module.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)

	// (GET /api/v1/files)
	ListFiles(w http.ResponseWriter, r *http.Request, params ListFilesParams)
	// (GET /api/v1/files/search)
	SearchFiles(w http.ResponseWriter, r *http.Request, params SearchFilesParams)
	// (POST /api/v1/files)
	UploadFile(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/files/reorder)
	ReorderFiles(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/files/{id})
	GetFileMetadata(w http.ResponseWriter, r *http.Request, id string)
	// (PATCH /api/v1/files/{id})
	UpdateFile(w http.ResponseWriter, r *http.Request, id string)
	// (DELETE /api/v1/files/{id})
	DeleteFile(w http.ResponseWriter, r *http.Request, id string)
	// (PUT /api/v1/files/{id}/content)
	ReplaceFileContent(w http.ResponseWriter, r *http.Request, id string)
	// (GET /api/v1/files/{id}/download)
	DownloadFile(w http.ResponseWriter, r *http.Request, id string)

	// (GET /api/v1/folders)
	ListFolders(w http.ResponseWriter, r *http.Request, params ListFoldersParams)
	// (POST /api/v1/folders)
	CreateFolder(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/folders/reorder)
	ReorderFolders(w http.ResponseWriter, r *http.Request)
	// (PATCH /api/v1/folders/{id})
	UpdateFolder(w http.ResponseWriter, r *http.Request, id string)
	// (DELETE /api/v1/folders/{id})
	DeleteFolder(w http.ResponseWriter, r *http.Request, id string)

	// (GET /api/v1/downloads/cache/status)
	GetCacheStatus(w http.ResponseWriter, r *http.Request)
	// (DELETE /api/v1/downloads/cache)
	ClearCache(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError — параметр не разобран.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper разбирает параметры запроса и вызывает ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return "", false
	}
	return id, true
}

// ListFiles разбирает entityType, entityId и folderId.
func (siw *ServerInterfaceWrapper) ListFiles(w http.ResponseWriter, r *http.Request) {
	var params ListFilesParams
	q := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, true, "entityType", q, &params.EntityType); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "entityType", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "entityId", q, &params.EntityId); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "entityId", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "folderId", q, &params.FolderId); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "folderId", Err: err})
		return
	}

	siw.Handler.ListFiles(w, r, params)
}

// SearchFiles разбирает q и необязательную сущность.
func (siw *ServerInterfaceWrapper) SearchFiles(w http.ResponseWriter, r *http.Request) {
	var params SearchFilesParams
	q := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "q", q, &params.Q); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "q", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "entityType", q, &params.EntityType); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "entityType", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "entityId", q, &params.EntityId); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "entityId", Err: err})
		return
	}

	siw.Handler.SearchFiles(w, r, params)
}

func (siw *ServerInterfaceWrapper) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.GetFileMetadata(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) UpdateFile(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.UpdateFile(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.DeleteFile(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) ReplaceFileContent(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.ReplaceFileContent(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.DownloadFile(w, r, id)
	}
}

// ListFolders разбирает entityType и entityId.
func (siw *ServerInterfaceWrapper) ListFolders(w http.ResponseWriter, r *http.Request) {
	var params ListFoldersParams
	q := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, true, "entityType", q, &params.EntityType); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "entityType", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "entityId", q, &params.EntityId); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "entityId", Err: err})
		return
	}

	siw.Handler.ListFolders(w, r, params)
}

func (siw *ServerInterfaceWrapper) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.UpdateFolder(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	if id, ok := siw.pathID(w, r); ok {
		siw.Handler.DeleteFolder(w, r, id)
	}
}

func (siw *ServerInterfaceWrapper) HealthLive(w http.ResponseWriter, r *http.Request) {
	siw.Handler.HealthLive(w, r)
}

func (siw *ServerInterfaceWrapper) HealthReady(w http.ResponseWriter, r *http.Request) {
	siw.Handler.HealthReady(w, r)
}

func (siw *ServerInterfaceWrapper) GetMetrics(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetMetrics(w, r)
}

func (siw *ServerInterfaceWrapper) UploadFile(w http.ResponseWriter, r *http.Request) {
	siw.Handler.UploadFile(w, r)
}

func (siw *ServerInterfaceWrapper) ReorderFiles(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ReorderFiles(w, r)
}

func (siw *ServerInterfaceWrapper) CreateFolder(w http.ResponseWriter, r *http.Request) {
	siw.Handler.CreateFolder(w, r)
}

func (siw *ServerInterfaceWrapper) ReorderFolders(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ReorderFolders(w, r)
}

func (siw *ServerInterfaceWrapper) GetCacheStatus(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetCacheStatus(w, r)
}

func (siw *ServerInterfaceWrapper) ClearCache(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ClearCache(w, r)
}

// defaultErrorHandler отвечает 400 с текстом ошибки разбора.
func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	apierrors.ValidationError(w, err.Error())
}

// HandlerFromMux регистрирует все маршруты на r.
// Health и /metrics публичные. Маршруты /api/v1 проходят через auth
// (nil — без аутентификации) и проверку роли или scope.
func HandlerFromMux(si ServerInterface, r chi.Router, auth func(http.Handler) http.Handler) http.Handler {
	wrapper := &ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: defaultErrorHandler,
	}

	r.Get("/health/live", wrapper.HealthLive)
	r.Get("/health/ready", wrapper.HealthReady)
	r.Get("/metrics", wrapper.GetMetrics)

	var (
		read = middleware.RequireRoleOrScope(
			middleware.RolesAtLeast(middleware.RoleViewer), []string{middleware.ScopeFilesRead})
		write = middleware.RequireRoleOrScope(
			middleware.RolesAtLeast(middleware.RoleEditor), []string{middleware.ScopeFilesWrite})
		remove = middleware.RequireRoleOrScope(
			middleware.RolesAtLeast(middleware.RoleAdmin), []string{middleware.ScopeFilesDelete})
		opsRead = middleware.RequireRoleOrScope(
			middleware.RolesAtLeast(middleware.RoleAdmin), []string{middleware.ScopeOpsRead})
		admin = middleware.RequireRoleOrScope(
			middleware.RolesAtLeast(middleware.RoleAdmin), nil)
	)

	r.Route(APIPrefix, func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Route("/files", func(r chi.Router) {
			r.With(read).Get("/", wrapper.ListFiles)
			r.With(read).Get("/search", wrapper.SearchFiles)
			r.With(write).Post("/", wrapper.UploadFile)
			r.With(write).Post("/reorder", wrapper.ReorderFiles)
			r.With(read).Get("/{id}", wrapper.GetFileMetadata)
			r.With(write).Patch("/{id}", wrapper.UpdateFile)
			r.With(remove).Delete("/{id}", wrapper.DeleteFile)
			r.With(write).Put("/{id}/content", wrapper.ReplaceFileContent)
			r.With(read).Get("/{id}/download", wrapper.DownloadFile)
		})

		r.Route("/folders", func(r chi.Router) {
			r.With(read).Get("/", wrapper.ListFolders)
			r.With(write).Post("/", wrapper.CreateFolder)
			r.With(write).Post("/reorder", wrapper.ReorderFolders)
			r.With(write).Patch("/{id}", wrapper.UpdateFolder)
			r.With(admin).Delete("/{id}", wrapper.DeleteFolder)
		})

		r.With(opsRead).Get("/downloads/cache/status", wrapper.GetCacheStatus)
		r.With(admin).Delete("/downloads/cache", wrapper.ClearCache)
	})

	return r
}
