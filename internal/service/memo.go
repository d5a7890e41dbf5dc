package service

import (
	"strings"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// ResponseMemo — кэш мемоизации списков файлов и папок.
// Ключи: "files:<scope>" и "folders:<entity>".
type ResponseMemo = BoundedCache[string, any]

func fileListKey(scope model.Scope) string {
	return "files:" + scope.Key()
}

func folderListKey(entity model.EntityRef) string {
	return "folders:" + entity.String()
}

// invalidateEntity удаляет все мемоизированные списки сущности.
func invalidateEntity(memo *ResponseMemo, entity model.EntityRef) {
	if memo == nil {
		return
	}
	filesPrefix := "files:" + entity.String() + "/"
	folders := folderListKey(entity)
	memo.DeleteFunc(func(k string) bool {
		return k == folders || strings.HasPrefix(k, filesPrefix)
	})
}
