// Пакет errors — ответы с ошибками в формате Media Module.
// Формат тела: {"error": "<сообщение>", "code": "<КОД>"}.
// Сообщение стабильно: клиенты сравнивают его со строкой.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeReorderMismatch  = "REORDER_MISMATCH"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Стабильные сообщения, на которые опираются клиенты.
const (
	MsgAuthRequired  = "Authentication required"
	MsgFileNotFound  = "File not found"
	MsgInternalError = "Internal server error"
)

// errorBody — тело ответа ошибки.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError записывает ответ ошибки.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: message,
		Code:  code,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
// Сообщение всегда MsgAuthRequired, причина отказа только логируется.
func Unauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, MsgAuthRequired)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// ReorderMismatch — 409 набор id не совпадает с содержимым области.
func ReorderMismatch(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReorderMismatch, message)
}

// PayloadTooLarge — 413 превышен лимит загрузки.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// StoreUnavailable — 500 хранилище недоступно (сбой или таймаут БД).
// Отдельный code, но статус как у прочих серверных сбоев.
func StoreUnavailable(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeStoreUnavailable, "Storage unavailable")
}

// InternalError — 500 внутренняя ошибка. Детали клиенту не передаются.
func InternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, MsgInternalError)
}
