package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cr-go/internal/app"
	"cr-go/internal/config"
	"cr-go/internal/cr"
	"cr-go/internal/database"
	"cr-go/internal/encryption"
	"cr-go/internal/wastebin"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig("tester", dir)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Snapshots = config.SnapshotConfig{Type: "memory"}
	cfg.Encryption = config.EncryptionConfig{Enabled: true, Type: "test"}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *app.CRApp {
	t.Helper()
	a, err := app.NewCRApp(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("NewCRApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// site creates node "site" with channel "de" and a file below the root folder.
func site(t *testing.T, a *app.CRApp) (root cr.ObjectID, file *cr.Object) {
	t.Helper()
	ctx := context.Background()
	if _, err := a.CreateNode(ctx, "site", false); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if _, err := a.CreateChannel(ctx, "site", "de"); err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	root, err := a.RootFolder(ctx, "site")
	if err != nil {
		t.Fatalf("RootFolder() error = %v", err)
	}
	file, err = a.CreateObject(ctx, "", cr.CreateRequest{FolderID: root, Type: cr.TypeFile, Name: "about.txt", Size: 12})
	if err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	return root, file
}

func TestNewCRApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Locks.Backend = "etcd"
	if _, err := app.NewCRApp(context.Background(), cfg, "test"); err == nil {
		t.Fatal("NewCRApp() error = nil for unknown lock backend")
	}
}

func TestCRApp_Objects(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t))
	root, file := site(t, a)

	t.Run("channels", func(t *testing.T) {
		chain, err := a.MasterChain(ctx, "de")
		if err != nil {
			t.Fatalf("MasterChain() error = %v", err)
		}
		if len(chain) != 2 || chain[0].Name != "de" || chain[1].Name != "site" {
			t.Errorf("MasterChain() = %v, want [de site]", chain)
		}
		if _, err := a.CreateChannel(ctx, "nope", "x"); !errors.Is(err, cr.ErrNotFound) {
			t.Errorf("CreateChannel() on unknown master error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rename in channel localizes", func(t *testing.T) {
		local, err := a.Rename(ctx, file.ChannelSetID, "de", "ueber.txt")
		if err != nil {
			t.Fatalf("Rename() error = %v", err)
		}
		if local.IsMaster() {
			t.Error("Rename() in channel returned the master")
		}

		inRoot, err := a.Show(ctx, file.ChannelSetID, "", wastebin.Exclude)
		if err != nil {
			t.Fatalf("Show() error = %v", err)
		}
		if inRoot.Variant.Name != "about.txt" {
			t.Errorf("root sees %q, want about.txt", inRoot.Variant.Name)
		}

		listed, err := a.List(ctx, root, "de", wastebin.Exclude)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(listed) != 1 || listed[0].Variant.Name != "ueber.txt" {
			t.Errorf("List(de) = %v, want [ueber.txt]", listed)
		}

		if err := a.Unlocalize(ctx, file.ChannelSetID, "de"); err != nil {
			t.Fatalf("Unlocalize() error = %v", err)
		}
		variants, err := a.Variants(ctx, file.ChannelSetID)
		if err != nil {
			t.Fatalf("Variants() error = %v", err)
		}
		if len(variants) != 1 {
			t.Errorf("Variants() after Unlocalize = %d rows, want 1", len(variants))
		}
	})

	t.Run("disinherit", func(t *testing.T) {
		res, err := a.SetDisinheritance(ctx, file.ChannelSetID, app.DisinheritSpec{Excluded: []string{"de"}})
		if err != nil {
			t.Fatalf("SetDisinheritance() error = %v", err)
		}
		if len(res.Disinheritance.Excluded) != 1 {
			t.Errorf("Excluded = %v, want one channel", res.Disinheritance.Excluded)
		}
		if _, err := a.Show(ctx, file.ChannelSetID, "de", wastebin.Exclude); !errors.Is(err, cr.ErrNotVisible) {
			t.Errorf("Show(de) error = %v, want ErrNotVisible", err)
		}
		if _, err := a.SetDisinheritance(ctx, file.ChannelSetID, app.DisinheritSpec{}); err != nil {
			t.Fatalf("clearing disinheritance error = %v", err)
		}
		if _, err := a.SetDisinheritance(ctx, file.ChannelSetID, app.DisinheritSpec{Excluded: []string{"ghost"}}); !errors.Is(err, cr.ErrNotFound) {
			t.Errorf("unknown channel error = %v, want ErrNotFound", err)
		}
	})

	t.Run("translate", func(t *testing.T) {
		page, err := a.CreateObject(ctx, "", cr.CreateRequest{FolderID: root, Type: cr.TypePage, Name: "index.html", Language: "en"})
		if err != nil {
			t.Fatalf("CreateObject(page) error = %v", err)
		}
		tr, created, err := a.Translate(ctx, page.ChannelSetID, "de")
		if err != nil {
			t.Fatalf("Translate() error = %v", err)
		}
		if !created || tr.ContentSetID != page.ContentSetID {
			t.Errorf("Translate() = %+v, created %v", tr, created)
		}
		pages, err := a.Translations(ctx, page.ContentSetID)
		if err != nil {
			t.Fatalf("Translations() error = %v", err)
		}
		if len(pages) != 2 {
			t.Errorf("Translations() = %d pages, want 2", len(pages))
		}
	})

	t.Run("history", func(t *testing.T) {
		ops, err := a.GetHistory(ctx, 10)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		// one persisted operation per app instance
		if len(ops) != 1 || ops[0].Operation != "test" || ops[0].Parameters != "site" {
			t.Errorf("GetHistory() = %+v", ops)
		}
	})
}

func TestCRApp_DeleteRestore(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t))
	_, file := site(t, a)

	if err := a.Grant(ctx, "tester", "de", cr.ActionDelete, false); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if _, err := a.Delete(ctx, file.ChannelSetID, "de"); !errors.Is(err, cr.ErrInsufficientPrivileges) {
		t.Fatalf("Delete() with channel denial error = %v, want ErrInsufficientPrivileges", err)
	}
	if err := a.Grant(ctx, "tester", "de", cr.ActionDelete, true); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}

	res, err := a.Delete(ctx, file.ChannelSetID, "")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(res.ChannelSets) != 1 {
		t.Errorf("Delete() touched %d channel sets, want 1", len(res.ChannelSets))
	}

	bin, err := a.Wastebin(ctx, "site", "")
	if err != nil {
		t.Fatalf("Wastebin() error = %v", err)
	}
	if len(bin) != 1 || bin[0].Variant.ChannelSetID != file.ChannelSetID {
		t.Errorf("Wastebin() = %v, want the deleted file", bin)
	}
	if _, err := a.Show(ctx, file.ChannelSetID, "", wastebin.Exclude); !errors.Is(err, cr.ErrNotVisible) {
		t.Errorf("Show() of deleted error = %v, want ErrNotVisible", err)
	}
	shown, err := a.Show(ctx, file.ChannelSetID, "", wastebin.Include)
	if err != nil || !shown.InWastebin {
		t.Errorf("Show(include) = %+v, %v; want flagged wastebin row", shown, err)
	}

	if _, err := a.Restore(ctx, file.ChannelSetID); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := a.Show(ctx, file.ChannelSetID, "de", wastebin.Exclude); err != nil {
		t.Errorf("Show(de) after Restore error = %v", err)
	}
}

func TestCRApp_Import(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Import.Ignore = []string{"*.tmp"}
	a := newApp(t, cfg)
	root, _ := site(t, a)

	src := t.TempDir()
	for rel, body := range map[string]string{
		"docs/guide.html": "guide",
		"docs/skip.tmp":   "x",
		"logo.png":        "png",
	} {
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := a.Import(ctx, src, root, "")
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Folders != 1 || res.Files != 2 {
		t.Errorf("Import() = %+v, want 1 folder and 2 files", res)
	}

	stats, err := a.LockStats()
	if err != nil {
		t.Fatalf("LockStats() error = %v", err)
	}
	var acquired float64
	for _, s := range stats {
		if s.Backend == "memory" && s.Outcome == "acquired" {
			acquired = s.Count
		}
	}
	if acquired == 0 {
		t.Errorf("LockStats() = %+v, want memory acquisitions", stats)
	}
}

func TestCRApp_Snapshots(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t))
	site(t, a)

	if err := a.SetupKeys("secret"); err != nil {
		t.Fatalf("SetupKeys() error = %v", err)
	}
	if err := a.SetupKeys("again"); !errors.Is(err, encryption.ErrKeysExist) {
		t.Errorf("second SetupKeys() error = %v, want ErrKeysExist", err)
	}

	info, err := a.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if !strings.HasSuffix(info.Name, ".db.age") || info.Size == 0 {
		t.Errorf("ExportSnapshot() = %+v, want a sealed snapshot", info)
	}

	infos, err := a.ListSnapshots(ctx)
	if err != nil || len(infos) != 1 {
		t.Fatalf("ListSnapshots() = %v, %v", infos, err)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	if _, err := a.FetchSnapshot(ctx, "", dest, "wrong"); err == nil {
		t.Fatal("FetchSnapshot() with wrong passphrase error = nil")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("failed fetch left %s behind", dest)
	}

	name, err := a.FetchSnapshot(ctx, "", dest, "secret")
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if name != info.Name {
		t.Errorf("FetchSnapshot() fetched %q, want %q", name, info.Name)
	}
	if _, err := a.FetchSnapshot(ctx, name, dest, "secret"); err == nil {
		t.Error("FetchSnapshot() over an existing file error = nil")
	}

	restored, err := database.NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening restored snapshot: %v", err)
	}
	defer restored.Close()
	node, err := restored.FindNodeByName(ctx, "site")
	if err != nil || node == nil {
		t.Errorf("restored snapshot FindNodeByName() = %v, %v", node, err)
	}
}

func TestCRApp_PlainSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Encryption.Enabled = false
	a := newApp(t, cfg)

	if err := a.SetupKeys("x"); !errors.Is(err, app.ErrNoEncryption) {
		t.Errorf("SetupKeys() error = %v, want ErrNoEncryption", err)
	}
	info, err := a.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if !strings.HasSuffix(info.Name, ".db") {
		t.Errorf("ExportSnapshot() name = %q, want plain .db", info.Name)
	}
	dest := filepath.Join(t.TempDir(), "plain.db")
	if _, err := a.FetchSnapshot(ctx, info.Name, dest, ""); err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
}

func TestCRApp_CloseAutoExport(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	snapDir := t.TempDir()
	cfg.Snapshots = config.SnapshotConfig{Type: "filesystem", Root: snapDir, AutoExport: true}

	a, err := app.NewCRApp(ctx, cfg, "create-node")
	if err != nil {
		t.Fatalf("NewCRApp() error = %v", err)
	}
	if _, err := a.CreateNode(ctx, "site", false); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(snapDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".db.age") {
		t.Errorf("snapshot dir = %v, want one sealed snapshot", entries)
	}

	logData, err := os.ReadFile(filepath.Join(cfg.LogDir, app.LogFile))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(logData), "command=create-node") {
		t.Errorf("log does not mention the command:\n%s", logData)
	}

	t.Run("read-only command does not export", func(t *testing.T) {
		b, err := app.NewCRApp(ctx, cfg, "nodes")
		if err != nil {
			t.Fatalf("NewCRApp() error = %v", err)
		}
		if _, err := b.ListNodes(ctx); err != nil {
			t.Fatalf("ListNodes() error = %v", err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		entries, _ := os.ReadDir(snapDir)
		if len(entries) != 1 {
			t.Errorf("snapshot dir has %d entries after read-only command, want 1", len(entries))
		}
	})
}
