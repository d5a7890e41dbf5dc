package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
)

func strPtr(s string) *string { return &s }

// folderTree — дерево /Музыка/Джинглы/Короткие и /Речь.
func folderTree() *mockFolderRepo {
	return newMockFolderRepo(
		&model.Folder{ID: "music", Name: "Музыка", Entity: testEntity, FolderPath: "/Музыка"},
		&model.Folder{ID: "jingles", Name: "Джинглы", ParentFolderID: strPtr("music"), Entity: testEntity, FolderPath: "/Музыка/Джинглы"},
		&model.Folder{ID: "short", Name: "Короткие", ParentFolderID: strPtr("jingles"), Entity: testEntity, FolderPath: "/Музыка/Джинглы/Короткие"},
		&model.Folder{ID: "speech", Name: "Речь", Entity: testEntity, FolderPath: "/Речь"},
	)
}

func newTestFolderService(files *mockFileRepo, folders *mockFolderRepo) (*FolderService, *ResponseMemo, *fakeTx) {
	memo := newTestMemo()
	tx := &fakeTx{}
	svc := NewFolderService(tx, folders,
		func(repository.DBTX) repository.FileRepository { return files },
		func(repository.DBTX) repository.FolderRepository { return folders },
		memo, testLogger())
	return svc, memo, tx
}

// TestFolderService_Create — путь строится от родителя.
func TestFolderService_Create(t *testing.T) {
	folders := folderTree()
	svc, memo, _ := newTestFolderService(&mockFileRepo{}, folders)
	memo.Set(folderListKey(testEntity), []*model.Folder{})

	f, err := svc.Create(context.Background(), testEntity, strPtr("music"), " Подложки ", nil)
	if err != nil {
		t.Fatalf("Create ошибка: %v", err)
	}
	if f.Name != "Подложки" || f.FolderPath != "/Музыка/Подложки" {
		t.Errorf("Name/FolderPath = %q/%q", f.Name, f.FolderPath)
	}
	if f.ID == "" {
		t.Error("ID не присвоен")
	}
	if memo.Size() != 0 {
		t.Error("memo папок не инвалидирован")
	}

	root, err := svc.Create(context.Background(), testEntity, nil, "Архив", strPtr("старые выпуски"))
	if err != nil {
		t.Fatalf("Create(root) ошибка: %v", err)
	}
	if root.FolderPath != "/Архив" || root.ParentFolderID != nil {
		t.Errorf("корневая папка: %+v", root)
	}
}

// TestFolderService_Create_Errors — валидация имени, родителя и дубликата.
func TestFolderService_Create_Errors(t *testing.T) {
	foreign := &model.Folder{ID: "foreign", Name: "X", Entity: model.EntityRef{Kind: model.EntityProject, ID: "p"}, FolderPath: "/X"}
	folders := folderTree()
	folders.folders[foreign.ID] = foreign
	svc, _, _ := newTestFolderService(&mockFileRepo{}, folders)

	cases := []struct {
		name     string
		parentID *string
		folder   string
		want     error
	}{
		{"пустое имя", nil, "  ", ErrValidation},
		{"слэш в имени", nil, "a/b", ErrValidation},
		{"нет родителя", strPtr("missing"), "a", ErrNotFound},
		{"чужой родитель", strPtr("foreign"), "a", ErrValidation},
		{"дубликат пути", nil, "Речь", ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), testEntity, tc.parentID, tc.folder, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ошибка = %v, ожидалась %v", err, tc.want)
			}
		})
	}
}

// TestFolderService_Rename — пути потомков переписываются.
func TestFolderService_Rename(t *testing.T) {
	folders := folderTree()
	svc, _, tx := newTestFolderService(&mockFileRepo{}, folders)

	f, err := svc.Rename(context.Background(), "music", "Музыка и SFX", nil)
	if err != nil {
		t.Fatalf("Rename ошибка: %v", err)
	}
	if f.FolderPath != "/Музыка и SFX" {
		t.Errorf("FolderPath = %q", f.FolderPath)
	}
	if tx.runs != 1 {
		t.Errorf("транзакций = %d, ожидалась 1", tx.runs)
	}
	if got := folders.folders["short"].FolderPath; got != "/Музыка и SFX/Джинглы/Короткие" {
		t.Errorf("путь потомка = %q", got)
	}
	if got := folders.folders["speech"].FolderPath; got != "/Речь" {
		t.Errorf("путь соседа изменён: %q", got)
	}
}

// TestFolderService_Rename_SameName — путь не меняется, переписывания нет.
func TestFolderService_Rename_SameName(t *testing.T) {
	folders := folderTree()
	svc, _, _ := newTestFolderService(&mockFileRepo{}, folders)

	f, err := svc.Rename(context.Background(), "jingles", "Джинглы", strPtr("короткие заставки"))
	if err != nil {
		t.Fatalf("Rename ошибка: %v", err)
	}
	if f.Description == nil || *f.Description != "короткие заставки" {
		t.Errorf("Description = %v", f.Description)
	}
	if len(folders.rewrites) != 0 {
		t.Errorf("лишнее переписывание путей: %v", folders.rewrites)
	}
}

// TestFolderService_Move — перенос в другую ветку и в корень.
func TestFolderService_Move(t *testing.T) {
	folders := folderTree()
	svc, _, _ := newTestFolderService(&mockFileRepo{}, folders)

	f, err := svc.Move(context.Background(), "jingles", strPtr("speech"))
	if err != nil {
		t.Fatalf("Move ошибка: %v", err)
	}
	if f.FolderPath != "/Речь/Джинглы" || f.ParentFolderID == nil || *f.ParentFolderID != "speech" {
		t.Errorf("после переноса: %+v", f)
	}
	if got := folders.folders["short"].FolderPath; got != "/Речь/Джинглы/Короткие" {
		t.Errorf("путь потомка = %q", got)
	}

	f, err = svc.Move(context.Background(), "jingles", nil)
	if err != nil {
		t.Fatalf("Move(root) ошибка: %v", err)
	}
	if f.FolderPath != "/Джинглы" || f.ParentFolderID != nil {
		t.Errorf("после переноса в корень: %+v", f)
	}
}

// TestFolderService_Move_Cycle — перенос в собственное поддерево отклоняется.
func TestFolderService_Move_Cycle(t *testing.T) {
	folders := folderTree()
	svc, _, _ := newTestFolderService(&mockFileRepo{}, folders)

	for _, target := range []string{"music", "short"} {
		_, err := svc.Move(context.Background(), "music", strPtr(target))
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Move(music → %s) ошибка = %v, ожидалась ErrValidation", target, err)
		}
	}
	if folders.folders["music"].FolderPath != "/Музыка" {
		t.Error("папка изменена несмотря на отказ")
	}
}

// TestFolderService_Delete — поддерево удаляется, файлы переносятся в корень.
func TestFolderService_Delete(t *testing.T) {
	folders := folderTree()
	var detached []string
	files := &mockFileRepo{detachFn: func(_ context.Context, entity model.EntityRef, ids []string) (int64, error) {
		if entity != testEntity {
			t.Errorf("entity = %v", entity)
		}
		detached = ids
		return 4, nil
	}}
	svc, memo, _ := newTestFolderService(files, folders)
	memo.Set(fileListKey(model.Scope{Entity: testEntity, FolderID: strPtr("jingles")}), []*model.File{})

	res, err := svc.Delete(context.Background(), "music")
	if err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if res.FoldersDeleted != 3 || res.FilesDetached != 4 {
		t.Errorf("результат = %+v, ожидалось 3 папки и 4 файла", res)
	}
	if len(detached) != 3 {
		t.Errorf("отвязаны папки %v, ожидалось всё поддерево", detached)
	}
	if _, ok := folders.folders["speech"]; !ok {
		t.Error("соседняя папка удалена")
	}
	if memo.Size() != 0 {
		t.Error("memo сущности не инвалидирован")
	}
}

// TestFolderService_Delete_NotFound — неизвестная папка.
func TestFolderService_Delete_NotFound(t *testing.T) {
	files := &mockFileRepo{}
	svc, _, _ := newTestFolderService(files, folderTree())

	if _, err := svc.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ошибка = %v, ожидалась ErrNotFound", err)
	}
	if files.count("DetachFromFolders") != 0 {
		t.Error("файлы не должны отвязываться")
	}
}

// TestFolderService_List_Memoized — список папок мемоизируется.
func TestFolderService_List_Memoized(t *testing.T) {
	svc, memo, _ := newTestFolderService(&mockFileRepo{}, folderTree())

	list, err := svc.List(context.Background(), testEntity)
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	if len(list) != 4 {
		t.Errorf("папок = %d, ожидалось 4", len(list))
	}
	if _, ok := memo.Get(folderListKey(testEntity)); !ok {
		t.Error("список не мемоизирован")
	}
}
