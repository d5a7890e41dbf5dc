package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

// memFileRepo — FileRepository в памяти для тестов handlers.
// Возвращает копии, чтобы параллельные запросы не делили структуры.
type memFileRepo struct {
	mu    sync.Mutex
	seq   int
	files map[string]*model.File
	blobs map[string][]byte
	added map[string]int
	// storeErr, если задана, возвращается чтениями метаданных и списков.
	storeErr error
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{
		files: make(map[string]*model.File),
		blobs: make(map[string][]byte),
		added: make(map[string]int),
	}
}

// seed кладёт файл с содержимым напрямую, в конец области.
func (m *memFileRepo) seed(f *model.File, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.SortOrder = len(m.scopeLocked(f.Scope()))
	if blob != nil {
		f.FileSize = int64(len(blob))
		m.blobs[f.ID] = blob
	}
	if f.Version == 0 {
		f.Version = 1
	}
	m.seq++
	m.added[f.ID] = m.seq
	m.files[f.ID] = f
}

func (m *memFileRepo) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeErr = err
}

func (m *memFileRepo) readErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeErr
}

func (m *memFileRepo) snapshot(id string) *model.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		cp := *f
		return &cp
	}
	return nil
}

func sameFolder(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// scopeLocked возвращает файлы области по sort_order, затем по порядку добавления.
func (m *memFileRepo) scopeLocked(scope model.Scope) []*model.File {
	var res []*model.File
	for _, f := range m.files {
		if f.Entity == scope.Entity && sameFolder(f.FolderID, scope.FolderID) {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SortOrder != res[j].SortOrder {
			return res[i].SortOrder < res[j].SortOrder
		}
		return m.added[res[i].ID] < m.added[res[j].ID]
	})
	return res
}

func copies(files []*model.File) []*model.File {
	res := make([]*model.File, 0, len(files))
	for _, f := range files {
		cp := *f
		res = append(res, &cp)
	}
	return res
}

func (m *memFileRepo) GetByID(_ context.Context, id string) (*model.File, error) {
	if err := m.readErr(); err != nil {
		return nil, err
	}
	if f := m.snapshot(id); f != nil {
		return f, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memFileRepo) GetBlob(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return nil, repository.ErrNotFound
	}
	blob, ok := m.blobs[id]
	if !ok {
		return nil, repository.ErrBlobMissing
	}
	return append([]byte(nil), blob...), nil
}

func (m *memFileRepo) ListByScope(_ context.Context, scope model.Scope) ([]*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return nil, m.storeErr
	}
	return copies(m.scopeLocked(scope)), nil
}

func (m *memFileRepo) Search(_ context.Context, params repository.SearchParams) ([]*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(params.Query)
	var res []*model.File
	for _, f := range m.files {
		if params.Entity != nil && f.Entity != *params.Entity {
			continue
		}
		match := strings.Contains(strings.ToLower(f.OriginalName), q)
		for _, t := range f.Tags {
			match = match || strings.Contains(strings.ToLower(t), q)
		}
		if match {
			res = append(res, f)
		}
	}
	return copies(res), nil
}

func (m *memFileRepo) Create(_ context.Context, f *model.File, blob []byte) error {
	cp := *f
	m.seed(&cp, blob)
	*f = cp
	return nil
}

func (m *memFileRepo) Update(_ context.Context, id string, upd repository.FileUpdate) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.OriginalName != nil {
		f.OriginalName = *upd.OriginalName
	}
	if upd.Tags != nil {
		f.Tags = *upd.Tags
	}
	if upd.Description != nil {
		f.Description = upd.Description
	}
	if upd.IsArchived != nil {
		f.IsArchived = *upd.IsArchived
	}
	if upd.AccessLevel != nil {
		f.AccessLevel = *upd.AccessLevel
	}
	cp := *f
	return &cp, nil
}

func (m *memFileRepo) ReplaceBlob(_ context.Context, id string, repl repository.BlobReplacement) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	m.blobs[id] = repl.Data
	f.FileSize = int64(len(repl.Data))
	f.Version++
	if repl.MimeType != "" {
		f.MimeType = repl.MimeType
	}
	if repl.OriginalName != "" {
		f.OriginalName = repl.OriginalName
	}
	cp := *f
	return &cp, nil
}

func (m *memFileRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.files, id)
	delete(m.blobs, id)
	return nil
}

func (m *memFileRepo) RecordAccess(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.DownloadCount++
	f.LastAccessedAt = &at
	return nil
}

func (m *memFileRepo) ScopeIDsForUpdate(_ context.Context, scope model.Scope) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, f := range m.scopeLocked(scope) {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func (m *memFileRepo) SetSortOrder(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		f, ok := m.files[id]
		if !ok {
			return repository.ErrNotFound
		}
		f.SortOrder = i
	}
	return nil
}

func (m *memFileRepo) DetachFromFolders(_ context.Context, entity model.EntityRef, folderIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := len(m.scopeLocked(model.Scope{Entity: entity}))
	var moved int64
	for _, fid := range folderIDs {
		for _, f := range m.scopeLocked(model.Scope{Entity: entity, FolderID: &fid}) {
			f.FolderID = nil
			f.SortOrder = next
			next++
			moved++
		}
	}
	return moved, nil
}

// memFolderRepo — FolderRepository в памяти.
type memFolderRepo struct {
	mu      sync.Mutex
	folders map[string]*model.Folder
}

func newMemFolderRepo() *memFolderRepo {
	return &memFolderRepo{folders: make(map[string]*model.Folder)}
}

func (m *memFolderRepo) siblingsLocked(entity model.EntityRef, parentID *string) []*model.Folder {
	var res []*model.Folder
	for _, f := range m.folders {
		if f.Entity == entity && sameFolder(f.ParentFolderID, parentID) {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SortOrder < res[j].SortOrder })
	return res
}

func (m *memFolderRepo) Create(_ context.Context, f *model.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.folders {
		if other.Entity == f.Entity && other.FolderPath == f.FolderPath {
			return repository.ErrConflict
		}
	}
	f.SortOrder = len(m.siblingsLocked(f.Entity, f.ParentFolderID))
	f.IsActive = true
	cp := *f
	m.folders[f.ID] = &cp
	return nil
}

func (m *memFolderRepo) GetByID(_ context.Context, id string) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFolderRepo) ListByEntity(_ context.Context, entity model.EntityRef) ([]*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*model.Folder
	for _, f := range m.folders {
		if f.Entity == entity {
			cp := *f
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].FolderPath < res[j].FolderPath })
	return res, nil
}

func (m *memFolderRepo) Update(_ context.Context, id string, ch repository.FolderChange) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if ch.Reparent {
		f.SortOrder = len(m.siblingsLocked(f.Entity, ch.ParentFolderID))
	}
	f.Name = ch.Name
	f.Description = ch.Description
	f.ParentFolderID = ch.ParentFolderID
	f.FolderPath = ch.FolderPath
	cp := *f
	return &cp, nil
}

func (m *memFolderRepo) RewritePaths(_ context.Context, entity model.EntityRef, oldPrefix, newPrefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.folders {
		if f.Entity == entity && strings.HasPrefix(f.FolderPath, oldPrefix+model.FolderPathSeparator) {
			f.FolderPath = newPrefix + strings.TrimPrefix(f.FolderPath, oldPrefix)
			n++
		}
	}
	return n, nil
}

func (m *memFolderRepo) SubtreeIDs(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.folders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ids := []string{id}
	for _, f := range m.folders {
		if f.Entity == root.Entity && strings.HasPrefix(f.FolderPath, root.FolderPath+model.FolderPathSeparator) {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}

func (m *memFolderRepo) DeleteMany(_ context.Context, ids []string) (int64, error) {
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

func (m *memFolderRepo) SiblingIDsForUpdate(_ context.Context, entity model.EntityRef, parentID *string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, f := range m.siblingsLocked(entity, parentID) {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func (m *memFolderRepo) SetSortOrder(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		f, ok := m.folders[id]
		if !ok {
			return repository.ErrNotFound
		}
		f.SortOrder = i
	}
	return nil
}

// memLogRepo — журнал скачиваний в памяти.
type memLogRepo struct {
	mu      sync.Mutex
	entries []*model.DownloadLogEntry
}

func (m *memLogRepo) Insert(_ context.Context, e *model.DownloadLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLogRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// memTx выполняет fn без настоящей транзакции: репозитории в памяти
// не зависят от переданного DBTX.
type memTx struct{}

func (memTx) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}
