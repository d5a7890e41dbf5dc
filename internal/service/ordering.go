// ordering.go — сохранение пользовательского порядка файлов и папок.
//
// Порядок фиксируется целиком в одной транзакции: строки области
// блокируются (FOR UPDATE), переданный набор id сверяется с набором
// в БД, затем sort_order = индекс записывается одним запросом.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

var reordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mm_reorders_total",
	Help: "Запросы на изменение порядка по типу (files, folders) и результату.",
}, []string{"kind", "result"})

// TxRunner выполняет fn в транзакции (реализуется repository.TxRunner).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// OrderingService — сервис упорядочивания.
type OrderingService struct {
	tx         TxRunner
	filesFor   func(repository.DBTX) repository.FileRepository
	foldersFor func(repository.DBTX) repository.FolderRepository
	memo       *ResponseMemo
	logger     *slog.Logger
}

// NewOrderingService создаёт сервис. filesFor/foldersFor строят
// репозитории поверх транзакции.
func NewOrderingService(
	tx TxRunner,
	filesFor func(repository.DBTX) repository.FileRepository,
	foldersFor func(repository.DBTX) repository.FolderRepository,
	memo *ResponseMemo,
	logger *slog.Logger,
) *OrderingService {
	return &OrderingService{
		tx:         tx,
		filesFor:   filesFor,
		foldersFor: foldersFor,
		memo:       memo,
		logger:     logger.With(slog.String("component", "ordering_service")),
	}
}

// Commit сохраняет порядок файлов области и возвращает новый список.
// Набор orderedIDs должен совпадать с набором файлов области,
// иначе ErrReorderIntegrity и никаких изменений.
func (s *OrderingService) Commit(ctx context.Context, scope model.Scope, orderedIDs []string) ([]*model.File, error) {
	if !scope.Entity.Kind.Valid() || scope.Entity.ID == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, model.ErrInvalidEntity)
	}

	var result []*model.File
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := s.filesFor(tx)

		current, err := repo.ScopeIDsForUpdate(ctx, scope)
		if err != nil {
			return err
		}
		if err := checkSameSet(current, orderedIDs); err != nil {
			return err
		}
		if err := repo.SetSortOrder(ctx, orderedIDs); err != nil {
			return err
		}
		result, err = repo.ListByScope(ctx, scope)
		return err
	})
	if err != nil {
		return nil, s.fail("files", scope.Key(), err)
	}

	invalidateEntity(s.memo, scope.Entity)
	reordersTotal.WithLabelValues("files", "ok").Inc()
	s.logger.Info("Порядок файлов сохранён",
		slog.String("scope", scope.Key()),
		slog.Int("count", len(orderedIDs)),
	)
	return result, nil
}

// CommitFolders сохраняет порядок дочерних папок parentID (nil — корень).
func (s *OrderingService) CommitFolders(
	ctx context.Context,
	entity model.EntityRef,
	parentID *string,
	orderedIDs []string,
) ([]*model.Folder, error) {
	if !entity.Kind.Valid() || entity.ID == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, model.ErrInvalidEntity)
	}

	var result []*model.Folder
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := s.foldersFor(tx)

		current, err := repo.SiblingIDsForUpdate(ctx, entity, parentID)
		if err != nil {
			return err
		}
		if err := checkSameSet(current, orderedIDs); err != nil {
			return err
		}
		if err := repo.SetSortOrder(ctx, orderedIDs); err != nil {
			return err
		}
		all, err := repo.ListByEntity(ctx, entity)
		if err != nil {
			return err
		}
		result = childrenOf(all, parentID)
		return nil
	})
	key := model.Scope{Entity: entity, FolderID: parentID}.Key()
	if err != nil {
		return nil, s.fail("folders", key, err)
	}

	invalidateEntity(s.memo, entity)
	reordersTotal.WithLabelValues("folders", "ok").Inc()
	s.logger.Info("Порядок папок сохранён",
		slog.String("scope", key),
		slog.Int("count", len(orderedIDs)),
	)
	return result, nil
}

func (s *OrderingService) fail(kind, scope string, err error) error {
	if errors.Is(err, ErrReorderIntegrity) {
		reordersTotal.WithLabelValues(kind, "integrity").Inc()
		s.logger.Warn("Порядок отклонён: набор id не совпадает",
			slog.String("kind", kind),
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		return err
	}
	reordersTotal.WithLabelValues(kind, "error").Inc()
	return storeError("сохранение порядка", err)
}

// checkSameSet проверяет, что ids — перестановка current.
// Повторяющийся id считается несовпадением.
func checkSameSet(current, ids []string) error {
	if len(current) != len(ids) {
		return fmt.Errorf("%w: передано %d, в области %d", ErrReorderIntegrity, len(ids), len(current))
	}
	pending := make(map[string]struct{}, len(current))
	for _, id := range current {
		pending[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := pending[id]; !ok {
			return fmt.Errorf("%w: лишний или повторный id %q", ErrReorderIntegrity, id)
		}
		delete(pending, id)
	}
	return nil
}

// childrenOf отбирает папки с заданным родителем, сохраняя порядок.
func childrenOf(all []*model.Folder, parentID *string) []*model.Folder {
	result := make([]*model.Folder, 0)
	for _, f := range all {
		if sameParent(f.ParentFolderID, parentID) {
			result = append(result, f)
		}
	}
	return result
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
