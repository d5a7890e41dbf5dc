package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mockFileRepo ---

// mockFileRepo — мок FileRepository для unit-тестов.
// Незаданные функции возвращают "пустые" значения.
type mockFileRepo struct {
	getByIDFn           func(ctx context.Context, id string) (*model.File, error)
	getBlobFn           func(ctx context.Context, id string) ([]byte, error)
	listByScopeFn       func(ctx context.Context, scope model.Scope) ([]*model.File, error)
	searchFn            func(ctx context.Context, params repository.SearchParams) ([]*model.File, error)
	createFn            func(ctx context.Context, f *model.File, blob []byte) error
	updateFn            func(ctx context.Context, id string, upd repository.FileUpdate) (*model.File, error)
	replaceBlobFn       func(ctx context.Context, id string, repl repository.BlobReplacement) (*model.File, error)
	deleteFn            func(ctx context.Context, id string) error
	recordAccessFn      func(ctx context.Context, id string, at time.Time) error
	scopeIDsForUpdateFn func(ctx context.Context, scope model.Scope) ([]string, error)
	setSortOrderFn      func(ctx context.Context, ids []string) error
	detachFn            func(ctx context.Context, entity model.EntityRef, folderIDs []string) (int64, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *mockFileRepo) called(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

func (m *mockFileRepo) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockFileRepo) GetByID(ctx context.Context, id string) (*model.File, error) {
	m.called("GetByID")
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) GetBlob(ctx context.Context, id string) ([]byte, error) {
	m.called("GetBlob")
	if m.getBlobFn != nil {
		return m.getBlobFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) ListByScope(ctx context.Context, scope model.Scope) ([]*model.File, error) {
	m.called("ListByScope")
	if m.listByScopeFn != nil {
		return m.listByScopeFn(ctx, scope)
	}
	return []*model.File{}, nil
}

func (m *mockFileRepo) Search(ctx context.Context, params repository.SearchParams) ([]*model.File, error) {
	m.called("Search")
	if m.searchFn != nil {
		return m.searchFn(ctx, params)
	}
	return []*model.File{}, nil
}

func (m *mockFileRepo) Create(ctx context.Context, f *model.File, blob []byte) error {
	m.called("Create")
	if m.createFn != nil {
		return m.createFn(ctx, f, blob)
	}
	f.Version = 1
	f.FileSize = int64(len(blob))
	return nil
}

func (m *mockFileRepo) Update(ctx context.Context, id string, upd repository.FileUpdate) (*model.File, error) {
	m.called("Update")
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) ReplaceBlob(ctx context.Context, id string, repl repository.BlobReplacement) (*model.File, error) {
	m.called("ReplaceBlob")
	if m.replaceBlobFn != nil {
		return m.replaceBlobFn(ctx, id, repl)
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) Delete(ctx context.Context, id string) error {
	m.called("Delete")
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockFileRepo) RecordAccess(ctx context.Context, id string, at time.Time) error {
	m.called("RecordAccess")
	if m.recordAccessFn != nil {
		return m.recordAccessFn(ctx, id, at)
	}
	return nil
}

func (m *mockFileRepo) ScopeIDsForUpdate(ctx context.Context, scope model.Scope) ([]string, error) {
	m.called("ScopeIDsForUpdate")
	if m.scopeIDsForUpdateFn != nil {
		return m.scopeIDsForUpdateFn(ctx, scope)
	}
	return nil, nil
}

func (m *mockFileRepo) SetSortOrder(ctx context.Context, ids []string) error {
	m.called("SetSortOrder")
	if m.setSortOrderFn != nil {
		return m.setSortOrderFn(ctx, ids)
	}
	return nil
}

func (m *mockFileRepo) DetachFromFolders(ctx context.Context, entity model.EntityRef, folderIDs []string) (int64, error) {
	m.called("DetachFromFolders")
	if m.detachFn != nil {
		return m.detachFn(ctx, entity, folderIDs)
	}
	return 0, nil
}

// --- mockFolderRepo ---

// mockFolderRepo — in-memory FolderRepository.
type mockFolderRepo struct {
	mu      sync.Mutex
	folders map[string]*model.Folder
	order   []string

	setSortOrderFn func(ctx context.Context, ids []string) error
	rewrites       []string
}

func newMockFolderRepo(folders ...*model.Folder) *mockFolderRepo {
	m := &mockFolderRepo{folders: make(map[string]*model.Folder)}
	for _, f := range folders {
		m.folders[f.ID] = f
		m.order = append(m.order, f.ID)
	}
	return m
}

func (m *mockFolderRepo) Create(_ context.Context, f *model.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.folders {
		if existing.Entity == f.Entity && existing.FolderPath == f.FolderPath {
			return repository.ErrConflict
		}
	}
	f.IsActive = true
	m.folders[f.ID] = f
	m.order = append(m.order, f.ID)
	return nil
}

func (m *mockFolderRepo) GetByID(_ context.Context, id string) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockFolderRepo) ListByEntity(_ context.Context, entity model.EntityRef) ([]*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*model.Folder, 0)
	for _, id := range m.order {
		if f, ok := m.folders[id]; ok && f.Entity == entity {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockFolderRepo) Update(_ context.Context, id string, ch repository.FolderChange) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	f.Name = ch.Name
	f.Description = ch.Description
	f.ParentFolderID = ch.ParentFolderID
	f.FolderPath = ch.FolderPath
	cp := *f
	return &cp, nil
}

func (m *mockFolderRepo) RewritePaths(_ context.Context, entity model.EntityRef, oldPrefix, newPrefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewrites = append(m.rewrites, oldPrefix+"→"+newPrefix)
	var n int64
	for _, f := range m.folders {
		if f.Entity == entity && len(f.FolderPath) > len(oldPrefix) &&
			f.FolderPath[:len(oldPrefix)+1] == oldPrefix+"/" {
			f.FolderPath = newPrefix + f.FolderPath[len(oldPrefix):]
			n++
		}
	}
	return n, nil
}

func (m *mockFolderRepo) SubtreeIDs(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[id]; !ok {
		return nil, repository.ErrNotFound
	}
	result := []string{id}
	for i := 0; i < len(result); i++ {
		for _, cid := range m.order {
			c, ok := m.folders[cid]
			if ok && c.ParentFolderID != nil && *c.ParentFolderID == result[i] {
				result = append(result, cid)
			}
		}
	}
	return result, nil
}

func (m *mockFolderRepo) DeleteMany(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.folders[id]; ok {
			delete(m.folders, id)
			n++
		}
	}
	return n, nil
}

func (m *mockFolderRepo) SiblingIDsForUpdate(_ context.Context, entity model.EntityRef, parentID *string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		f, ok := m.folders[id]
		if ok && f.Entity == entity && sameParent(f.ParentFolderID, parentID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockFolderRepo) SetSortOrder(ctx context.Context, ids []string) error {
	if m.setSortOrderFn != nil {
		return m.setSortOrderFn(ctx, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		m.folders[id].SortOrder = i
	}
	// Порядок списка следует за sort_order
	rest := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if !containsString(ids, id) {
			rest = append(rest, id)
		}
	}
	m.order = append(rest, ids...)
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// --- fakeTx ---

// fakeTx вызывает fn без реальной транзакции и считает вызовы.
type fakeTx struct {
	runs int
}

func (f *fakeTx) RunInTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	f.runs++
	return fn(nil)
}

// --- журнал ---

// recordingLedger — LedgerSink, сохраняющий записи.
type recordingLedger struct {
	mu      sync.Mutex
	entries []*model.DownloadLogEntry
}

func (l *recordingLedger) Submit(e *model.DownloadLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recordingLedger) all() []*model.DownloadLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.DownloadLogEntry(nil), l.entries...)
}

// mockLogWriter — DownloadLogWriter с настраиваемым поведением.
type mockLogWriter struct {
	mu       sync.Mutex
	entries  []*model.DownloadLogEntry
	insertFn func(ctx context.Context, e *model.DownloadLogEntry) error
}

func (m *mockLogWriter) Insert(ctx context.Context, e *model.DownloadLogEntry) error {
	if m.insertFn != nil {
		if err := m.insertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockLogWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
