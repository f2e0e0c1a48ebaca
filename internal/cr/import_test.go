package cr_test

import (
	"context"
	"errors"
	"testing"

	"cr-go/internal/cr"
)

func TestCRService_ImportTree(t *testing.T) {
	ctx := context.Background()
	entries := []cr.ImportEntry{
		{RelPath: "docs", IsDir: true},
		{RelPath: "docs/a.txt", Size: 3},
		{RelPath: "docs/index.html", Size: 10},
		{RelPath: "img", IsDir: true},
		{RelPath: "img/logo.png", Size: 99},
		{RelPath: "readme.md", Size: 1},
	}

	t.Run("mirrors the tree", func(t *testing.T) {
		s := newSite(t, cr.WithImportConcurrency(2))
		res, err := s.ImportTree(ctx, tester, s.root(), 0, entries)
		if err != nil {
			t.Fatalf("ImportTree() error = %v", err)
		}
		if res.Folders != 2 || res.Files != 4 {
			t.Errorf("result = %+v, want 2 folders and 4 files", res)
		}

		top, err := s.ListFolder(ctx, s.root(), 0)
		if err != nil {
			t.Fatalf("ListFolder() error = %v", err)
		}
		if names := resolvedNames(top); !equalStrings(names, []string{"docs", "img", "readme.md"}) {
			t.Fatalf("root = %v", names)
		}

		docs, err := s.ListFolder(ctx, top[0].Variant.ChannelSetID, 0)
		if err != nil {
			t.Fatalf("ListFolder(docs) error = %v", err)
		}
		types := map[string]cr.ObjectType{}
		for _, r := range docs {
			types[r.Variant.Name] = r.Variant.Type
		}
		if types["a.txt"] != cr.TypeFile || types["index.html"] != cr.TypePage {
			t.Errorf("docs types = %v", types)
		}

		img, _ := s.ListFolder(ctx, top[1].Variant.ChannelSetID, 0)
		if len(img) != 1 || img[0].Variant.Type != cr.TypeImage || img[0].Variant.Size != 99 {
			t.Errorf("img = %+v", img)
		}
	})

	t.Run("importing twice reuses objects", func(t *testing.T) {
		s := newSite(t)
		if _, err := s.ImportTree(ctx, tester, s.root(), 0, entries); err != nil {
			t.Fatalf("first ImportTree() error = %v", err)
		}
		if _, err := s.ImportTree(ctx, tester, s.root(), 0, entries); err != nil {
			t.Fatalf("second ImportTree() error = %v", err)
		}
		ids, err := s.DB.ListNodeChannelSets(ctx, s.node.ID)
		if err != nil {
			t.Fatalf("ListNodeChannelSets() error = %v", err)
		}
		// root folder plus the six entries
		if len(ids) != 7 {
			t.Errorf("node holds %d objects, want 7", len(ids))
		}
	})

	t.Run("parents must come first", func(t *testing.T) {
		s := newSite(t)
		_, err := s.ImportTree(ctx, tester, s.root(), 0, []cr.ImportEntry{{RelPath: "missing/a.txt"}})
		if err == nil {
			t.Fatal("expected an error for a file without its directory")
		}
	})

	t.Run("file errors abort the import", func(t *testing.T) {
		s := newSite(t)
		s.file(t, s.root(), "readme.md")
		conflicting := []cr.ImportEntry{{RelPath: "readme.md", IsDir: true}}
		_, err := s.ImportTree(ctx, tester, s.root(), 0, conflicting)
		if err != nil {
			t.Fatalf("a folder next to a file of the same name should import: %v", err)
		}

		s.Perms.Deny(tester, cr.ActionCreate, s.a.ID)
		_, err = s.ImportTree(ctx, tester, s.root(), s.a.ID, []cr.ImportEntry{{RelPath: "new.txt"}})
		if !errors.Is(err, cr.ErrInsufficientPrivileges) {
			t.Errorf("error = %v, want ErrInsufficientPrivileges", err)
		}
	})
}
