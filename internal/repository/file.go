package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// fileColumns — столбцы таблицы files для SELECT/RETURNING.
// blob_data сюда не входит: содержимое читается только через GetBlob.
const fileColumns = `id, filename, original_name, mime_type, file_size,
	entity_type, entity_id, folder_id, uploaded_by, tags, description,
	version, is_archived, access_level, download_count, last_accessed_at,
	sort_order, created_at, updated_at`

// scopeCondition — условие принадлежности строки области упорядочивания.
// Аргументы: entity_type, entity_id, folder_id (NULL — корень).
const scopeCondition = `entity_type = $1 AND entity_id = $2 AND folder_id IS NOT DISTINCT FROM $3::text`

// SearchParams — параметры поиска файлов по имени или тегу.
type SearchParams struct {
	// Query — подстрока имени файла или тега (ILIKE)
	Query string
	// Entity — ограничение поиска одной сущностью (nil — все)
	Entity *model.EntityRef
	// IncludeArchived — включать архивные файлы
	IncludeArchived bool
	// Limit — максимальное количество результатов
	Limit int
}

// FileUpdate — изменяемые поля метаданных. nil — поле не меняется.
type FileUpdate struct {
	OriginalName *string
	Tags         *[]string
	Description  *string
	IsArchived   *bool
	AccessLevel  *model.AccessLevel
}

// Empty сообщает, что ни одно поле не задано.
func (u FileUpdate) Empty() bool {
	return u.OriginalName == nil && u.Tags == nil && u.Description == nil &&
		u.IsArchived == nil && u.AccessLevel == nil
}

// BlobReplacement — новое содержимое файла при повторной загрузке.
type BlobReplacement struct {
	Data []byte
	// MimeType — новый MIME-тип (пусто — оставить прежний)
	MimeType string
	// OriginalName — новое имя (пусто — оставить прежнее)
	OriginalName string
}

// FileRepository — доступ к таблице files.
type FileRepository interface {
	// GetByID возвращает метаданные файла или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.File, error)
	// GetBlob возвращает декодированное содержимое файла.
	// Ошибки: ErrNotFound, ErrBlobMissing, ErrDataCorrupted.
	GetBlob(ctx context.Context, id string) ([]byte, error)
	// ListByScope возвращает файлы области по sort_order, затем created_at.
	ListByScope(ctx context.Context, scope model.Scope) ([]*model.File, error)
	// Search ищет файлы по подстроке имени или тега.
	Search(ctx context.Context, params SearchParams) ([]*model.File, error)
	// Create сохраняет файл с содержимым. Заполняет Version, SortOrder,
	// CreatedAt, UpdatedAt. Файл встаёт в конец своей области.
	Create(ctx context.Context, f *model.File, blob []byte) error
	// Update изменяет метаданные и возвращает обновлённый файл.
	Update(ctx context.Context, id string, upd FileUpdate) (*model.File, error)
	// ReplaceBlob заменяет содержимое, увеличивая version.
	ReplaceBlob(ctx context.Context, id string, repl BlobReplacement) (*model.File, error)
	// Delete удаляет файл вместе с содержимым.
	Delete(ctx context.Context, id string) error
	// RecordAccess атомарно увеличивает download_count и обновляет last_accessed_at.
	RecordAccess(ctx context.Context, id string, at time.Time) error
	// ScopeIDsForUpdate блокирует строки области (FOR UPDATE) и возвращает их id.
	// Предназначен для вызова внутри транзакции.
	ScopeIDsForUpdate(ctx context.Context, scope model.Scope) ([]string, error)
	// SetSortOrder записывает sort_order = индекс в ids одним запросом.
	SetSortOrder(ctx context.Context, ids []string) error
	// DetachFromFolders переносит файлы указанных папок в корень сущности,
	// в конец существующего порядка. Возвращает количество перенесённых файлов.
	DetachFromFolders(ctx context.Context, entity model.EntityRef, folderIDs []string) (int64, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// scanFile сканирует строку fileColumns в model.File.
func scanFile(row pgx.Row) (*model.File, error) {
	f := &model.File{}
	var kind, accessLevel string
	err := row.Scan(
		&f.ID, &f.Filename, &f.OriginalName, &f.MimeType, &f.FileSize,
		&kind, &f.Entity.ID, &f.FolderID, &f.UploadedBy, &f.Tags, &f.Description,
		&f.Version, &f.IsArchived, &accessLevel, &f.DownloadCount, &f.LastAccessedAt,
		&f.SortOrder, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Entity.Kind = model.EntityKind(kind)
	f.AccessLevel = model.AccessLevel(accessLevel)
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return f, nil
}

// collectFiles читает все строки результата.
func collectFiles(rows pgx.Rows) ([]*model.File, error) {
	defer rows.Close()

	result := make([]*model.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// GetByID возвращает файл по id или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.File, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// GetBlob читает base64-содержимое и декодирует его.
// Длина результата обязана совпадать с file_size.
func (r *fileRepo) GetBlob(ctx context.Context, id string) ([]byte, error) {
	var (
		size    int64
		encoded *string
	)
	err := r.db.QueryRow(ctx, `SELECT file_size, blob_data FROM files WHERE id = $1`, id).
		Scan(&size, &encoded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения содержимого файла: %w", err)
	}
	return decodeBlob(encoded, size)
}

// decodeBlob декодирует содержимое столбца blob_data.
func decodeBlob(encoded *string, size int64) ([]byte, error) {
	if encoded == nil || *encoded == "" {
		if size == 0 && encoded != nil {
			return []byte{}, nil
		}
		return nil, ErrBlobMissing
	}
	data, err := base64.StdEncoding.DecodeString(*encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataCorrupted, err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: размер %d, ожидался %d", ErrDataCorrupted, len(data), size)
	}
	return data, nil
}

// ListByScope возвращает файлы области в порядке отображения.
func (r *fileRepo) ListByScope(ctx context.Context, scope model.Scope) ([]*model.File, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE %s ORDER BY sort_order ASC, created_at ASC`,
		fileColumns, scopeCondition,
	)
	rows, err := r.db.Query(ctx, query, string(scope.Entity.Kind), scope.Entity.ID, scope.FolderID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	return collectFiles(rows)
}

// Search выполняет поиск с динамическими фильтрами.
func (r *fileRepo) Search(ctx context.Context, params SearchParams) ([]*model.File, error) {
	where, args := buildSearchWhere(params, 1)
	query := fmt.Sprintf(
		`SELECT %s FROM files %s ORDER BY original_name ASC, created_at ASC LIMIT $%d`,
		fileColumns, where, len(args)+1,
	)
	args = append(args, params.Limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска файлов: %w", err)
	}
	return collectFiles(rows)
}

// Create вставляет файл. sort_order вычисляется в том же INSERT как
// следующий номер в области, под блокировкой области.
func (r *fileRepo) Create(ctx context.Context, f *model.File, blob []byte) error {
	if f.Tags == nil {
		f.Tags = []string{}
	}
	if f.AccessLevel == "" {
		f.AccessLevel = model.AccessPrivate
	}

	query := `
		INSERT INTO files (
			id, filename, original_name, mime_type, file_size,
			entity_type, entity_id, folder_id, uploaded_by, tags,
			description, access_level, blob_data, sort_order
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::text, $9, $10, $11, $12, $13,
			(SELECT COALESCE(MAX(sort_order), -1) + 1 FROM files
			 WHERE entity_type = $6 AND entity_id = $7 AND folder_id IS NOT DISTINCT FROM $8::text)
		)
		RETURNING version, is_archived, download_count, sort_order, created_at, updated_at`

	err := inScopeLock(ctx, r.db, fileScopeLockKey(f.Scope()), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query,
			f.ID, f.Filename, f.OriginalName, f.MimeType, int64(len(blob)),
			string(f.Entity.Kind), f.Entity.ID, f.FolderID, f.UploadedBy, f.Tags,
			f.Description, string(f.AccessLevel), base64.StdEncoding.EncodeToString(blob),
		).Scan(&f.Version, &f.IsArchived, &f.DownloadCount, &f.SortOrder, &f.CreatedAt, &f.UpdatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: папка %v", ErrNotFound, derefString(f.FolderID))
		}
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	f.FileSize = int64(len(blob))
	return nil
}

// Update применяет FileUpdate. Пустое обновление просто возвращает файл.
func (r *fileRepo) Update(ctx context.Context, id string, upd FileUpdate) (*model.File, error) {
	if upd.Empty() {
		return r.GetByID(ctx, id)
	}

	set, args := buildUpdateSet(upd, 2)
	query := fmt.Sprintf(`UPDATE files SET %s WHERE id = $1 RETURNING %s`, set, fileColumns)
	args = append([]any{id}, args...)

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления файла: %w", err)
	}
	return f, nil
}

// ReplaceBlob заменяет содержимое и размер, version увеличивается на 1.
func (r *fileRepo) ReplaceBlob(ctx context.Context, id string, repl BlobReplacement) (*model.File, error) {
	query := fmt.Sprintf(`
		UPDATE files SET
			blob_data = $2,
			file_size = $3,
			mime_type = COALESCE(NULLIF($4, ''), mime_type),
			original_name = COALESCE(NULLIF($5, ''), original_name),
			version = version + 1
		WHERE id = $1
		RETURNING %s`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query,
		id, base64.StdEncoding.EncodeToString(repl.Data), int64(len(repl.Data)),
		repl.MimeType, repl.OriginalName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка замены содержимого файла: %w", err)
	}
	return f, nil
}

// Delete удаляет файл по id.
func (r *fileRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAccess — единственный UPDATE с инкрементом на стороне БД,
// поэтому параллельные вызовы не теряют приращений.
func (r *fileRepo) RecordAccess(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE files
		SET download_count = download_count + 1, last_accessed_at = $2
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика скачиваний: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ScopeIDsForUpdate блокирует область и её строки до конца транзакции.
// Advisory-блокировка не пускает параллельные вставки в эту же область.
func (r *fileRepo) ScopeIDsForUpdate(ctx context.Context, scope model.Scope) ([]string, error) {
	if err := lockScope(ctx, r.db, fileScopeLockKey(scope)); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id FROM files WHERE %s ORDER BY sort_order ASC, created_at ASC FOR UPDATE`,
		scopeCondition,
	)
	rows, err := r.db.Query(ctx, query, string(scope.Entity.Kind), scope.Entity.ID, scope.FolderID)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки области: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения идентификаторов области: %w", err)
	}
	return ids, nil
}

// SetSortOrder записывает позиции одним UPDATE через unnest WITH ORDINALITY.
func (r *fileRepo) SetSortOrder(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE files AS f
		SET sort_order = (o.ord - 1)::int
		FROM unnest($1::text[]) WITH ORDINALITY AS o(id, ord)
		WHERE f.id = o.id`

	tag, err := r.db.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("ошибка записи порядка файлов: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("%w: обновлено %d из %d", ErrNotFound, tag.RowsAffected(), len(ids))
	}
	return nil
}

// DetachFromFolders переносит файлы папок в корень сущности.
// Относительный порядок перенесённых файлов сохраняется (папка, затем sort_order).
func (r *fileRepo) DetachFromFolders(ctx context.Context, entity model.EntityRef, folderIDs []string) (int64, error) {
	if len(folderIDs) == 0 {
		return 0, nil
	}
	query := `
		WITH base AS (
			SELECT COALESCE(MAX(sort_order), -1) AS last
			FROM files
			WHERE entity_type = $1 AND entity_id = $2 AND folder_id IS NULL
		), moved AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY folder_id, sort_order, created_at) AS rn
			FROM files
			WHERE entity_type = $1 AND entity_id = $2 AND folder_id = ANY($3::text[])
		)
		UPDATE files AS f
		SET folder_id = NULL, sort_order = (base.last + moved.rn)::int
		FROM moved, base
		WHERE f.id = moved.id`

	var moved int64
	err := inScopeLock(ctx, r.db, fileScopeLockKey(model.Scope{Entity: entity}), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, string(entity.Kind), entity.ID, folderIDs)
		moved = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка переноса файлов в корень: %w", err)
	}
	return moved, nil
}

// buildSearchWhere строит WHERE-условие и аргументы поиска.
// startArg — номер первого $-параметра.
func buildSearchWhere(params SearchParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if q := strings.TrimSpace(params.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		conditions = append(conditions, fmt.Sprintf(
			"(original_name ILIKE $%[1]d OR filename ILIKE $%[1]d OR EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE $%[1]d))",
			argNum,
		))
		args = append(args, pattern)
		argNum++
	}

	if params.Entity != nil {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d AND entity_id = $%d", argNum, argNum+1))
		args = append(args, string(params.Entity.Kind), params.Entity.ID)
	}

	if !params.IncludeArchived {
		conditions = append(conditions, "is_archived = FALSE")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// buildUpdateSet строит SET-часть UPDATE для заданных полей FileUpdate.
func buildUpdateSet(upd FileUpdate, startArg int) (setClause string, args []any) {
	var sets []string
	argNum := startArg

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, value)
		argNum++
	}

	if upd.OriginalName != nil {
		add("original_name", *upd.OriginalName)
	}
	if upd.Tags != nil {
		tags := *upd.Tags
		if tags == nil {
			tags = []string{}
		}
		add("tags", tags)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.IsArchived != nil {
		add("is_archived", *upd.IsArchived)
	}
	if upd.AccessLevel != nil {
		add("access_level", string(*upd.AccessLevel))
	}

	return strings.Join(sets, ", "), args
}

// escapeLike экранирует спецсимволы LIKE в пользовательском запросе.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
