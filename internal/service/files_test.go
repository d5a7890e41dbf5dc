package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

func newTestFileService(files *mockFileRepo, folders *mockFolderRepo, maxUpload int64) (*FileService, *BlobCache, *ResponseMemo) {
	blobs := NewBoundedCache[string, CachedBlob]("blob", 50, 10*time.Minute, testLogger())
	memo := newTestMemo()
	return NewFileService(files, folders, blobs, memo, maxUpload, testLogger()), blobs, memo
}

// --- List ---

// TestFileService_List_Memoized — повторный запрос обслуживается из memo.
func TestFileService_List_Memoized(t *testing.T) {
	repo := &mockFileRepo{listByScopeFn: func(_ context.Context, s model.Scope) ([]*model.File, error) {
		return []*model.File{{ID: "f1", Entity: s.Entity}}, nil
	}}
	svc, _, _ := newTestFileService(repo, newMockFolderRepo(), 0)
	scope := model.Scope{Entity: testEntity}

	for i := 0; i < 3; i++ {
		files, err := svc.List(context.Background(), scope)
		if err != nil {
			t.Fatalf("List ошибка: %v", err)
		}
		if len(files) != 1 || files[0].ID != "f1" {
			t.Errorf("List = %v", files)
		}
	}
	if repo.count("ListByScope") != 1 {
		t.Errorf("ListByScope вызван %d раз, ожидался 1", repo.count("ListByScope"))
	}
}

// TestFileService_List_InvalidEntity — неизвестный тип сущности.
func TestFileService_List_InvalidEntity(t *testing.T) {
	svc, _, _ := newTestFileService(&mockFileRepo{}, newMockFolderRepo(), 0)
	_, err := svc.List(context.Background(), model.Scope{Entity: model.EntityRef{Kind: "shows", ID: "1"}})
	if !errors.Is(err, ErrValidation) || !errors.Is(err, model.ErrInvalidEntity) {
		t.Fatalf("ошибка = %v, ожидалась ErrValidation/ErrInvalidEntity", err)
	}
}

// --- Search ---

// TestFileService_Search_ShortQuery — короткий запрос не доходит до БД.
func TestFileService_Search_ShortQuery(t *testing.T) {
	repo := &mockFileRepo{}
	svc, _, _ := newTestFileService(repo, newMockFolderRepo(), 0)

	for _, q := range []string{"", " ", "a", " я "} {
		files, err := svc.Search(context.Background(), q, nil)
		if err != nil {
			t.Fatalf("Search(%q) ошибка: %v", q, err)
		}
		if files == nil || len(files) != 0 {
			t.Errorf("Search(%q) = %v, ожидался пустой список", q, files)
		}
	}
	if repo.count("Search") != 0 {
		t.Errorf("Search репозитория вызван %d раз, ожидалось 0", repo.count("Search"))
	}
}

// TestFileService_Search_Params — запрос обрезается, лимит и фильтр передаются.
func TestFileService_Search_Params(t *testing.T) {
	var got repository.SearchParams
	repo := &mockFileRepo{searchFn: func(_ context.Context, p repository.SearchParams) ([]*model.File, error) {
		got = p
		return []*model.File{{ID: "f1"}}, nil
	}}
	svc, _, _ := newTestFileService(repo, newMockFolderRepo(), 0)

	entity := testEntity
	files, err := svc.Search(context.Background(), "  джингл ", &entity)
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("файлов = %d, ожидался 1", len(files))
	}
	if got.Query != "джингл" || got.Limit != searchLimit || got.Entity == nil || *got.Entity != testEntity {
		t.Errorf("SearchParams = %+v", got)
	}
	if got.IncludeArchived {
		t.Error("архивные файлы не должны искаться по умолчанию")
	}
}

// --- Upload ---

// TestFileService_Upload — файл сохраняется, memo сущности сбрасывается.
func TestFileService_Upload(t *testing.T) {
	var stored []byte
	repo := &mockFileRepo{createFn: func(_ context.Context, f *model.File, blob []byte) error {
		stored = blob
		f.FileSize = int64(len(blob))
		f.Version = 1
		f.SortOrder = 3
		return nil
	}}
	svc, _, memo := newTestFileService(repo, newMockFolderRepo(), 1024)
	memo.Set(fileListKey(model.Scope{Entity: testEntity}), []*model.File{})

	f, err := svc.Upload(context.Background(), UploadInput{
		Entity:       testEntity,
		OriginalName: "Утренний эфир.MP3",
		MimeType:     "audio/mpeg",
		Tags:         []string{" news ", "news", "", "morning"},
		UploadedBy:   "user-1",
		Data:         []byte("ID3"),
	})
	if err != nil {
		t.Fatalf("Upload ошибка: %v", err)
	}

	if string(stored) != "ID3" {
		t.Errorf("сохранено %q", stored)
	}
	if !strings.HasSuffix(f.Filename, ".mp3") || !strings.HasPrefix(f.Filename, f.ID) {
		t.Errorf("Filename = %q, ожидался <id>.mp3", f.Filename)
	}
	if f.AccessLevel != model.AccessPrivate {
		t.Errorf("AccessLevel = %q, ожидался private по умолчанию", f.AccessLevel)
	}
	if len(f.Tags) != 2 || f.Tags[0] != "news" || f.Tags[1] != "morning" {
		t.Errorf("Tags = %v, ожидалось [news morning]", f.Tags)
	}
	if f.FileSize != 3 || f.Version != 1 {
		t.Errorf("FileSize/Version = %d/%d", f.FileSize, f.Version)
	}
	if memo.Size() != 0 {
		t.Error("memo сущности не инвалидирован")
	}
}

// TestFileService_Upload_Validation — отказы до обращения к БД.
func TestFileService_Upload_Validation(t *testing.T) {
	otherFolder := &model.Folder{ID: "fold-x", Entity: model.EntityRef{Kind: model.EntityProject, ID: "p-9"}}
	valid := UploadInput{Entity: testEntity, OriginalName: "a.wav", UploadedBy: "u", Data: []byte("1")}

	cases := []struct {
		name   string
		mutate func(in *UploadInput)
		want   error
	}{
		{"пустое имя", func(in *UploadInput) { in.OriginalName = "  " }, ErrValidation},
		{"без автора", func(in *UploadInput) { in.UploadedBy = "" }, ErrAuthRequired},
		{"слишком большой", func(in *UploadInput) { in.Data = make([]byte, 11) }, ErrValidation},
		{"уровень доступа", func(in *UploadInput) { in.AccessLevel = "secret" }, ErrValidation},
		{"сущность", func(in *UploadInput) { in.Entity = model.EntityRef{Kind: model.EntityScript} }, ErrValidation},
		{"чужая папка", func(in *UploadInput) { id := "fold-x"; in.FolderID = &id }, ErrValidation},
		{"нет папки", func(in *UploadInput) { id := "missing"; in.FolderID = &id }, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockFileRepo{}
			svc, _, _ := newTestFileService(repo, newMockFolderRepo(otherFolder), 10)
			in := valid
			tc.mutate(&in)

			_, err := svc.Upload(context.Background(), in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ошибка = %v, ожидалась %v", err, tc.want)
			}
			if repo.count("Create") != 0 {
				t.Error("Create не должен вызываться")
			}
		})
	}
}

// TestFileService_Upload_StoreFailure — сбой БД → ErrUploadFailed.
func TestFileService_Upload_StoreFailure(t *testing.T) {
	repo := &mockFileRepo{createFn: func(context.Context, *model.File, []byte) error {
		return errors.New("disk full")
	}}
	svc, _, _ := newTestFileService(repo, newMockFolderRepo(), 0)

	_, err := svc.Upload(context.Background(), UploadInput{Entity: testEntity, OriginalName: "a", UploadedBy: "u"})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("ошибка = %v, ожидалась ErrUploadFailed", err)
	}
}

// --- Update / ReplaceContent ---

// TestFileService_Update — теги нормализуются, пустое имя отклоняется.
func TestFileService_Update(t *testing.T) {
	var got repository.FileUpdate
	repo := &mockFileRepo{updateFn: func(_ context.Context, id string, upd repository.FileUpdate) (*model.File, error) {
		got = upd
		return &model.File{ID: id, Entity: testEntity, Tags: *upd.Tags}, nil
	}}
	svc, _, _ := newTestFileService(repo, newMockFolderRepo(), 0)

	tags := []string{"b", " b", "c "}
	f, err := svc.Update(context.Background(), "f1", repository.FileUpdate{Tags: &tags})
	if err != nil {
		t.Fatalf("Update ошибка: %v", err)
	}
	if len(*got.Tags) != 2 || len(f.Tags) != 2 {
		t.Errorf("Tags = %v, ожидалось [b c]", *got.Tags)
	}

	empty := " "
	if _, err := svc.Update(context.Background(), "f1", repository.FileUpdate{OriginalName: &empty}); !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}

	repo.updateFn = nil
	if _, err := svc.Update(context.Background(), "missing", repository.FileUpdate{Tags: &tags}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestFileService_ReplaceContent_EvictsBlob — кэш blob очищается для файла.
func TestFileService_ReplaceContent_EvictsBlob(t *testing.T) {
	repo := &mockFileRepo{replaceBlobFn: func(_ context.Context, id string, repl repository.BlobReplacement) (*model.File, error) {
		return &model.File{ID: id, Entity: testEntity, Version: 2, FileSize: int64(len(repl.Data))}, nil
	}}
	svc, blobs, _ := newTestFileService(repo, newMockFolderRepo(), 0)
	blobs.Set("f1", CachedBlob{Version: 1, Data: []byte("old")})
	blobs.Set("f2", CachedBlob{Version: 1, Data: []byte("other")})

	f, err := svc.ReplaceContent(context.Background(), "f1", repository.BlobReplacement{Data: []byte("new!")})
	if err != nil {
		t.Fatalf("ReplaceContent ошибка: %v", err)
	}
	if f.Version != 2 || f.FileSize != 4 {
		t.Errorf("Version/FileSize = %d/%d", f.Version, f.FileSize)
	}
	if _, ok := blobs.Get("f1"); ok {
		t.Error("устаревший blob остался в кэше")
	}
	if _, ok := blobs.Get("f2"); !ok {
		t.Error("blob другого файла вытеснен")
	}
}

// --- Delete ---

// TestFileService_Delete — удаление вытесняет blob и memo сущности.
func TestFileService_Delete(t *testing.T) {
	repo := &mockFileRepo{getByIDFn: func(_ context.Context, id string) (*model.File, error) {
		return &model.File{ID: id, Entity: testEntity}, nil
	}}
	svc, blobs, memo := newTestFileService(repo, newMockFolderRepo(), 0)
	blobs.Set("f1", CachedBlob{Version: 1, Data: []byte("x")})
	memo.Set(fileListKey(model.Scope{Entity: testEntity}), []*model.File{})

	if err := svc.Delete(context.Background(), "f1"); err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if repo.count("Delete") != 1 {
		t.Errorf("Delete репозитория вызван %d раз", repo.count("Delete"))
	}
	if blobs.Size() != 0 || memo.Size() != 0 {
		t.Errorf("кэши не очищены: blob=%d memo=%d", blobs.Size(), memo.Size())
	}
}

// TestFileService_Delete_NotFound — повторное удаление даёт ErrNotFound.
func TestFileService_Delete_NotFound(t *testing.T) {
	repo := &mockFileRepo{}
	svc, _, _ := newTestFileService(repo, newMockFolderRepo(), 0)

	if err := svc.Delete(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ошибка = %v, ожидалась ErrNotFound", err)
	}
	if repo.count("Delete") != 0 {
		t.Error("Delete репозитория не должен вызываться")
	}
}

// TestFileService_CacheStatsAndClear — состояние и очистка обоих кэшей.
func TestFileService_CacheStatsAndClear(t *testing.T) {
	svc, blobs, memo := newTestFileService(&mockFileRepo{}, newMockFolderRepo(), 0)
	blobs.Set("f1", CachedBlob{Version: 1, Data: []byte("x")})
	memo.Set("files:episodes/ep-1/-", []*model.File{})
	memo.Set("folders:episodes/ep-1", []*model.Folder{})

	b, m := svc.CacheStats()
	if b.Size != 1 || b.MaxEntries != 50 || b.TTLSeconds != 600 {
		t.Errorf("blob stats = %+v", b)
	}
	if m.Size != 2 || m.MaxEntries != 100 || m.TTLSeconds != 300 {
		t.Errorf("memo stats = %+v", m)
	}

	svc.ClearCaches()
	if blobs.Size() != 0 || memo.Size() != 0 {
		t.Error("кэши не очищены")
	}
}
