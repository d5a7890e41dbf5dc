package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

// Ошибки сервисного слоя. Handlers сопоставляют их с HTTP-статусами через errors.Is.
var (
	// ErrAuthRequired — запрос без аутентифицированного субъекта.
	ErrAuthRequired = errors.New("требуется аутентификация")
	// ErrNotFound — файл или папка не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrDataCorrupted — содержимое не декодируется или не совпадает с file_size.
	ErrDataCorrupted = errors.New("содержимое файла повреждено")
	// ErrBlobMissing — метаданные есть, содержимого нет.
	ErrBlobMissing = errors.New("содержимое файла отсутствует")
	// ErrStoreUnavailable — хранилище недоступно или не ответило вовремя.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrReorderIntegrity — набор id не совпадает с набором в области.
	ErrReorderIntegrity = errors.New("набор идентификаторов не совпадает с содержимым области")
	// ErrUploadFailed — не удалось сохранить загруженный файл.
	ErrUploadFailed = errors.New("ошибка сохранения файла")
	// ErrLogWrite — ошибка записи журнала скачиваний (не фатальна для ответа).
	ErrLogWrite = errors.New("ошибка записи журнала скачиваний")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("некорректные данные")
	// ErrConflict — ресурс с таким именем/путём уже существует.
	ErrConflict = errors.New("конфликт")
)

// storeError переводит ошибку репозитория в ошибку сервисного слоя.
// Всё, что не является известной ошибкой репозитория, считается
// недоступностью хранилища.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrBlobMissing):
		return fmt.Errorf("%s: %w: %w", op, ErrBlobMissing, err)
	case errors.Is(err, repository.ErrDataCorrupted):
		return fmt.Errorf("%s: %w: %w", op, ErrDataCorrupted, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}
