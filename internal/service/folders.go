// folders.go — дерево папок сущности с материализованными путями.
//
// folder_path всегда совпадает с цепочкой родителей: при переименовании
// или перемещении пути потомков переписываются в той же транзакции.
// Удаление папки удаляет всё поддерево папок, а файлы из него переносятся
// в корень сущности (в конец существующего порядка).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

// FolderDeleteResult — итог удаления папки.
type FolderDeleteResult struct {
	// FoldersDeleted — удалено папок (включая вложенные)
	FoldersDeleted int64 `json:"foldersDeleted"`
	// FilesDetached — файлов перенесено в корень сущности
	FilesDetached int64 `json:"filesDetached"`
}

// FolderService — сервис папок.
type FolderService struct {
	tx         TxRunner
	folders    repository.FolderRepository
	filesFor   func(repository.DBTX) repository.FileRepository
	foldersFor func(repository.DBTX) repository.FolderRepository
	memo       *ResponseMemo
	logger     *slog.Logger
}

// NewFolderService создаёт сервис папок.
func NewFolderService(
	tx TxRunner,
	folders repository.FolderRepository,
	filesFor func(repository.DBTX) repository.FileRepository,
	foldersFor func(repository.DBTX) repository.FolderRepository,
	memo *ResponseMemo,
	logger *slog.Logger,
) *FolderService {
	return &FolderService{
		tx:         tx,
		folders:    folders,
		filesFor:   filesFor,
		foldersFor: foldersFor,
		memo:       memo,
		logger:     logger.With(slog.String("component", "folder_service")),
	}
}

// List возвращает все папки сущности (мемоизируется).
func (s *FolderService) List(ctx context.Context, entity model.EntityRef) ([]*model.Folder, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}

	key := folderListKey(entity)
	if v, ok := s.memo.Get(key); ok {
		if folders, ok := v.([]*model.Folder); ok {
			return folders, nil
		}
	}

	folders, err := s.folders.ListByEntity(ctx, entity)
	if err != nil {
		return nil, storeError("получение списка папок", err)
	}
	s.memo.Set(key, folders)
	return folders, nil
}

// Get возвращает папку по id.
func (s *FolderService) Get(ctx context.Context, id string) (*model.Folder, error) {
	f, err := s.folders.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("получение папки", err)
	}
	return f, nil
}

// Create создаёт папку в конце списка соседей.
func (s *FolderService) Create(
	ctx context.Context,
	entity model.EntityRef,
	parentID *string,
	name string,
	description *string,
) (*model.Folder, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}
	name, err := validateFolderName(name)
	if err != nil {
		return nil, err
	}

	parentPath := ""
	if parentID != nil {
		parent, err := s.folders.GetByID(ctx, *parentID)
		if err != nil {
			return nil, storeError("получение родительской папки", err)
		}
		if parent.Entity != entity {
			return nil, fmt.Errorf("%w: родительская папка принадлежит %s", ErrValidation, parent.Entity)
		}
		parentPath = parent.FolderPath
	}

	f := &model.Folder{
		ID:             uuid.New().String(),
		Name:           name,
		Description:    description,
		ParentFolderID: parentID,
		Entity:         entity,
		FolderPath:     model.ChildPath(parentPath, name),
	}
	if err := s.folders.Create(ctx, f); err != nil {
		return nil, storeError("создание папки", err)
	}

	invalidateEntity(s.memo, entity)
	s.logger.Info("Папка создана",
		slog.String("folder_id", f.ID),
		slog.String("path", f.FolderPath),
		slog.String("entity", entity.String()),
	)
	return f, nil
}

// Rename меняет имя (и описание) папки, переписывая пути потомков.
func (s *FolderService) Rename(ctx context.Context, id, name string, description *string) (*model.Folder, error) {
	name, err := validateFolderName(name)
	if err != nil {
		return nil, err
	}
	return s.change(ctx, id, func(_ context.Context, _ repository.FolderRepository, cur *model.Folder) (repository.FolderChange, error) {
		desc := cur.Description
		if description != nil {
			desc = description
		}
		return repository.FolderChange{
			Name:           name,
			Description:    desc,
			ParentFolderID: cur.ParentFolderID,
			FolderPath:     model.ChildPath(parentPath(cur), name),
		}, nil
	})
}

// Move переносит папку под нового родителя (nil — в корень сущности).
// Перенос папки внутрь собственного поддерева отклоняется.
func (s *FolderService) Move(ctx context.Context, id string, newParentID *string) (*model.Folder, error) {
	return s.change(ctx, id, func(ctx context.Context, repo repository.FolderRepository, cur *model.Folder) (repository.FolderChange, error) {
		basePath := ""
		if newParentID != nil {
			subtree, err := repo.SubtreeIDs(ctx, cur.ID)
			if err != nil {
				return repository.FolderChange{}, err
			}
			for _, sid := range subtree {
				if sid == *newParentID {
					return repository.FolderChange{}, fmt.Errorf("%w: папку нельзя переместить в собственное поддерево", ErrValidation)
				}
			}
			parent, err := repo.GetByID(ctx, *newParentID)
			if err != nil {
				return repository.FolderChange{}, err
			}
			if parent.Entity != cur.Entity {
				return repository.FolderChange{}, fmt.Errorf("%w: родительская папка принадлежит %s", ErrValidation, parent.Entity)
			}
			basePath = parent.FolderPath
		}
		return repository.FolderChange{
			Name:           cur.Name,
			Description:    cur.Description,
			ParentFolderID: newParentID,
			FolderPath:     model.ChildPath(basePath, cur.Name),
			Reparent:       !sameParent(cur.ParentFolderID, newParentID),
		}, nil
	})
}

type folderChangeFunc func(ctx context.Context, repo repository.FolderRepository, cur *model.Folder) (repository.FolderChange, error)

// change применяет изменение папки и переписывает пути потомков в одной транзакции.
func (s *FolderService) change(ctx context.Context, id string, build folderChangeFunc) (*model.Folder, error) {
	var updated *model.Folder
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := s.foldersFor(tx)

		cur, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		ch, err := build(ctx, repo, cur)
		if err != nil {
			return err
		}
		updated, err = repo.Update(ctx, id, ch)
		if err != nil {
			return err
		}
		if cur.FolderPath != ch.FolderPath {
			if _, err := repo.RewritePaths(ctx, cur.Entity, cur.FolderPath, ch.FolderPath); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, storeError("изменение папки", err)
	}

	invalidateEntity(s.memo, updated.Entity)
	s.logger.Info("Папка изменена",
		slog.String("folder_id", id),
		slog.String("path", updated.FolderPath),
	)
	return updated, nil
}

// Delete удаляет папку с поддеревом; файлы переносятся в корень сущности.
func (s *FolderService) Delete(ctx context.Context, id string) (*FolderDeleteResult, error) {
	var (
		result FolderDeleteResult
		entity model.EntityRef
	)
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		folders := s.foldersFor(tx)
		files := s.filesFor(tx)

		folder, err := folders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		entity = folder.Entity

		ids, err := folders.SubtreeIDs(ctx, id)
		if err != nil {
			return err
		}
		if result.FilesDetached, err = files.DetachFromFolders(ctx, entity, ids); err != nil {
			return err
		}
		result.FoldersDeleted, err = folders.DeleteMany(ctx, ids)
		return err
	})
	if err != nil {
		return nil, storeError("удаление папки", err)
	}

	invalidateEntity(s.memo, entity)
	s.logger.Info("Папка удалена",
		slog.String("folder_id", id),
		slog.Int64("folders_deleted", result.FoldersDeleted),
		slog.Int64("files_detached", result.FilesDetached),
	)
	return &result, nil
}

// validateFolderName проверяет имя сегмента пути.
func validateFolderName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: пустое имя папки", ErrValidation)
	}
	if strings.Contains(name, model.FolderPathSeparator) {
		return "", fmt.Errorf("%w: имя папки содержит %q", ErrValidation, model.FolderPathSeparator)
	}
	return name, nil
}

// parentPath — путь родителя, выведенный из пути папки.
func parentPath(f *model.Folder) string {
	i := strings.LastIndex(f.FolderPath, model.FolderPathSeparator)
	if i <= 0 {
		return ""
	}
	return f.FolderPath[:i]
}
