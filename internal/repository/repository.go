// Пакет repository — слой доступа к данным PostgreSQL для Media Module.
// Метаданные файлов, их содержимое (base64 в столбце blob_data),
// дерево папок и журнал скачиваний. Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrBlobMissing — у файла нет содержимого (NULL или пустая строка).
	ErrBlobMissing = errors.New("содержимое файла отсутствует")
	// ErrDataCorrupted — содержимое не декодируется или не совпадает по размеру.
	ErrDataCorrupted = errors.New("содержимое файла повреждено")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Begin — транзакция для пула, savepoint для pgx.Tx.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// scopeLockSQL — advisory-блокировка области упорядочивания до конца транзакции.
// Вставки в конец области, перемещения в неё и перестановки выполняются
// под этой блокировкой, поэтому MAX(sort_order)+1 не выдаёт одинаковых позиций.
const scopeLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

func fileScopeLockKey(scope model.Scope) string {
	return "files:" + scope.Key()
}

func folderScopeLockKey(entity model.EntityRef, parentID *string) string {
	return "folders:" + model.Scope{Entity: entity, FolderID: parentID}.Key()
}

// lockScope берёт блокировку key в текущей транзакции db.
func lockScope(ctx context.Context, db DBTX, key string) error {
	if _, err := db.Exec(ctx, scopeLockSQL, key); err != nil {
		return fmt.Errorf("ошибка блокировки области %s: %w", key, err)
	}
	return nil
}

// inScopeLock выполняет fn в транзакции (savepoint, если db уже транзакция)
// под блокировкой области key.
func inScopeLock(ctx context.Context, db DBTX, key string, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if err := lockScope(ctx, tx, key); err != nil {
			return err
		}
		return fn(tx)
	})
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation — ссылка на несуществующую папку.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
