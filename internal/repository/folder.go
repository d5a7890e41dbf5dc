package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

const folderColumns = `id, name, description, parent_folder_id, entity_type, entity_id,
	folder_path, sort_order, is_active, created_at, updated_at`

// siblingCondition — условие "соседи по родителю" (аргументы $1..$3).
const siblingCondition = `entity_type = $1 AND entity_id = $2 AND parent_folder_id IS NOT DISTINCT FROM $3::text`

// FolderChange — новое состояние папки при переименовании или перемещении.
type FolderChange struct {
	Name           string
	Description    *string
	ParentFolderID *string
	FolderPath     string
	// Reparent — родитель сменился, папка встаёт в конец новых соседей
	Reparent bool
}

// FolderRepository — доступ к таблице folders.
type FolderRepository interface {
	Create(ctx context.Context, f *model.Folder) error
	GetByID(ctx context.Context, id string) (*model.Folder, error)
	// ListByEntity возвращает все папки сущности: корни первыми,
	// затем по родителю и sort_order.
	ListByEntity(ctx context.Context, entity model.EntityRef) ([]*model.Folder, error)
	Update(ctx context.Context, id string, ch FolderChange) (*model.Folder, error)
	// RewritePaths заменяет префикс oldPrefix на newPrefix у всех потомков.
	RewritePaths(ctx context.Context, entity model.EntityRef, oldPrefix, newPrefix string) (int64, error)
	// SubtreeIDs возвращает id папки и всех её потомков.
	SubtreeIDs(ctx context.Context, id string) ([]string, error)
	DeleteMany(ctx context.Context, ids []string) (int64, error)
	// SiblingIDsForUpdate блокирует папки одного родителя и возвращает их id.
	SiblingIDsForUpdate(ctx context.Context, entity model.EntityRef, parentID *string) ([]string, error)
	SetSortOrder(ctx context.Context, ids []string) error
}

type folderRepo struct {
	db DBTX
}

// NewFolderRepository создаёт репозиторий папок.
func NewFolderRepository(db DBTX) FolderRepository {
	return &folderRepo{db: db}
}

func scanFolder(row pgx.Row) (*model.Folder, error) {
	f := &model.Folder{}
	var kind string
	err := row.Scan(
		&f.ID, &f.Name, &f.Description, &f.ParentFolderID, &kind, &f.Entity.ID,
		&f.FolderPath, &f.SortOrder, &f.IsActive, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Entity.Kind = model.EntityKind(kind)
	return f, nil
}

// Create вставляет папку в конец списка соседей под блокировкой их области.
func (r *folderRepo) Create(ctx context.Context, f *model.Folder) error {
	query := `
		INSERT INTO folders (
			id, name, description, parent_folder_id, entity_type, entity_id, folder_path, sort_order
		) VALUES (
			$4, $5, $6, $3::text, $1, $2, $7,
			(SELECT COALESCE(MAX(sort_order), -1) + 1 FROM folders WHERE ` + siblingCondition + `)
		)
		RETURNING sort_order, is_active, created_at, updated_at`

	err := inScopeLock(ctx, r.db, folderScopeLockKey(f.Entity, f.ParentFolderID), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query,
			string(f.Entity.Kind), f.Entity.ID, f.ParentFolderID,
			f.ID, f.Name, f.Description, f.FolderPath,
		).Scan(&f.SortOrder, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: родительская папка %s", ErrNotFound, derefString(f.ParentFolderID))
		}
		return fmt.Errorf("ошибка создания папки: %w", err)
	}
	return nil
}

// GetByID возвращает папку или ErrNotFound.
func (r *folderRepo) GetByID(ctx context.Context, id string) (*model.Folder, error) {
	query := fmt.Sprintf(`SELECT %s FROM folders WHERE id = $1`, folderColumns)

	f, err := scanFolder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения папки: %w", err)
	}
	return f, nil
}

// ListByEntity возвращает дерево папок сущности плоским списком.
func (r *folderRepo) ListByEntity(ctx context.Context, entity model.EntityRef) ([]*model.Folder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM folders
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY parent_folder_id NULLS FIRST, sort_order ASC, created_at ASC`, folderColumns)

	rows, err := r.db.Query(ctx, query, string(entity.Kind), entity.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка папок: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Folder, 0)
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования папки: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// Update записывает имя, описание, родителя и путь папки.
// При смене родителя папка встаёт в конец новых соседей под блокировкой их области.
func (r *folderRepo) Update(ctx context.Context, id string, ch FolderChange) (*model.Folder, error) {
	query := fmt.Sprintf(`
		UPDATE folders AS f SET
			name = $2,
			description = $3,
			parent_folder_id = $4::text,
			folder_path = $5,
			sort_order = CASE WHEN $6::boolean THEN (
				SELECT COALESCE(MAX(s.sort_order), -1) + 1 FROM folders AS s
				WHERE s.entity_type = f.entity_type AND s.entity_id = f.entity_id
				  AND s.parent_folder_id IS NOT DISTINCT FROM $4::text AND s.id <> f.id
			) ELSE f.sort_order END
		WHERE f.id = $1
		RETURNING %s`, folderColumns)

	var f *model.Folder
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if ch.Reparent {
			var kind, entityID string
			err := tx.QueryRow(ctx, `SELECT entity_type, entity_id FROM folders WHERE id = $1`, id).
				Scan(&kind, &entityID)
			if err != nil {
				return err
			}
			entity := model.EntityRef{Kind: model.EntityKind(kind), ID: entityID}
			if err := lockScope(ctx, tx, folderScopeLockKey(entity, ch.ParentFolderID)); err != nil {
				return err
			}
		}
		var err error
		f, err = scanFolder(tx.QueryRow(ctx, query,
			id, ch.Name, ch.Description, ch.ParentFolderID, ch.FolderPath, ch.Reparent,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: родительская папка %s", ErrNotFound, derefString(ch.ParentFolderID))
		}
		return nil, fmt.Errorf("ошибка обновления папки: %w", err)
	}
	return f, nil
}

// RewritePaths переписывает материализованные пути потомков.
func (r *folderRepo) RewritePaths(ctx context.Context, entity model.EntityRef, oldPrefix, newPrefix string) (int64, error) {
	query := `
		UPDATE folders
		SET folder_path = $4 || substr(folder_path, length($3) + 1)
		WHERE entity_type = $1 AND entity_id = $2 AND folder_path LIKE $5`

	tag, err := r.db.Exec(ctx, query,
		string(entity.Kind), entity.ID, oldPrefix, newPrefix,
		escapeLike(oldPrefix+model.FolderPathSeparator)+"%",
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("ошибка обновления путей папок: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SubtreeIDs обходит дерево рекурсивным CTE.
func (r *folderRepo) SubtreeIDs(ctx context.Context, id string) ([]string, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM folders WHERE id = $1
			UNION ALL
			SELECT c.id FROM folders AS c JOIN subtree AS s ON c.parent_folder_id = s.id
		)
		SELECT id FROM subtree`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода поддерева: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения поддерева: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

// DeleteMany удаляет папки по списку id.
func (r *folderRepo) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM folders WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления папок: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SiblingIDsForUpdate блокирует область соседей и их строки до конца транзакции.
func (r *folderRepo) SiblingIDsForUpdate(ctx context.Context, entity model.EntityRef, parentID *string) ([]string, error) {
	if err := lockScope(ctx, r.db, folderScopeLockKey(entity, parentID)); err != nil {
		return nil, err
	}
	query := `SELECT id FROM folders WHERE ` + siblingCondition +
		` ORDER BY sort_order ASC, created_at ASC FOR UPDATE`

	rows, err := r.db.Query(ctx, query, string(entity.Kind), entity.ID, parentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки соседних папок: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения соседних папок: %w", err)
	}
	return ids, nil
}

// SetSortOrder записывает sort_order = индекс одним UPDATE.
func (r *folderRepo) SetSortOrder(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE folders AS f
		SET sort_order = (o.ord - 1)::int
		FROM unnest($1::text[]) WITH ORDINALITY AS o(id, ord)
		WHERE f.id = o.id`

	tag, err := r.db.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("ошибка записи порядка папок: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("%w: обновлено %d из %d", ErrNotFound, tag.RowsAffected(), len(ids))
	}
	return nil
}
