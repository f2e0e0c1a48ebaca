package cr_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cr-go/internal/cr"
)

func TestCRService_Rename(t *testing.T) {
	ctx := context.Background()

	t.Run("renaming in a channel localizes", func(t *testing.T) {
		s := newSite(t)
		f := s.file(t, s.root(), "report.pdf")

		got, err := s.Rename(ctx, tester, f.ChannelSetID, s.a.ID, "bericht.pdf")
		if err != nil {
			t.Fatalf("Rename() error = %v", err)
		}
		if got.ChannelID != s.a.ID || got.ID == f.ID || got.ChannelSetID != f.ChannelSetID {
			t.Fatalf("renamed = %+v, want a new copy owned by %d", got, s.a.ID)
		}

		want := map[cr.NodeID]string{
			0:        "report.pdf",
			s.a.ID:   "bericht.pdf",
			s.sub.ID: "bericht.pdf",
			s.b.ID:   "report.pdf",
		}
		for ch, name := range want {
			r, err := s.Resolve(ctx, f.ChannelSetID, ch)
			if err != nil {
				t.Fatalf("Resolve in %d error = %v", ch, err)
			}
			if r.Variant.Name != name {
				t.Errorf("name in %d = %q, want %q", ch, r.Variant.Name, name)
			}
		}

		again, err := s.Rename(ctx, tester, f.ChannelSetID, s.a.ID, "final.pdf")
		if err != nil {
			t.Fatalf("second Rename() error = %v", err)
		}
		if again.ID != got.ID {
			t.Errorf("second rename wrote row %d, want existing copy %d", again.ID, got.ID)
		}
		if variants, _ := s.Variants(ctx, f.ChannelSetID); len(variants) != 2 {
			t.Errorf("channel set has %d rows, want 2", len(variants))
		}
	})

	t.Run("renaming the master updates it in place", func(t *testing.T) {
		s := newSite(t)
		f := s.file(t, s.root(), "report.pdf")
		for _, ch := range []cr.NodeID{0, s.node.ID} {
			got, err := s.Rename(ctx, tester, f.ChannelSetID, ch, "r.pdf")
			if err != nil {
				t.Fatalf("Rename in %d error = %v", ch, err)
			}
			if got.ID != f.ID {
				t.Errorf("Rename in %d wrote row %d, want master %d", ch, got.ID, f.ID)
			}
		}
	})

	t.Run("name conflicts", func(t *testing.T) {
		s := newSite(t)
		s.file(t, s.root(), "taken.pdf")
		f := s.file(t, s.root(), "report.pdf")

		if _, err := s.Rename(ctx, tester, f.ChannelSetID, s.a.ID, "Taken.pdf"); !errors.Is(err, cr.ErrNameConflict) {
			t.Errorf("error = %v, want ErrNameConflict", err)
		}
		if variants, _ := s.Variants(ctx, f.ChannelSetID); len(variants) != 1 {
			t.Errorf("a rejected rename left %d rows, want 1", len(variants))
		}
		if _, err := s.Rename(ctx, tester, f.ChannelSetID, 0, "REPORT.pdf"); err != nil {
			t.Errorf("renaming to its own name error = %v", err)
		}
	})

	t.Run("edit permission", func(t *testing.T) {
		s := newSite(t)
		f := s.file(t, s.root(), "report.pdf")
		s.Perms.Deny(tester, cr.ActionEdit, s.b.ID)
		if _, err := s.Rename(ctx, tester, f.ChannelSetID, s.b.ID, "x.pdf"); !errors.Is(err, cr.ErrInsufficientPrivileges) {
			t.Errorf("error = %v, want ErrInsufficientPrivileges", err)
		}
	})
}

func TestCRService_Localize(t *testing.T) {
	ctx := context.Background()

	t.Run("copies the inherited variant", func(t *testing.T) {
		s := newSite(t)
		f := s.MustCreate(t, cr.CreateRequest{FolderID: s.root(), Type: cr.TypeFile, Name: "report.pdf", Size: 7})
		if _, err := s.Rename(ctx, tester, f.ChannelSetID, s.a.ID, "a.pdf"); err != nil {
			t.Fatalf("Rename() error = %v", err)
		}

		local, err := s.Localize(ctx, tester, f.ChannelSetID, s.sub.ID)
		if err != nil {
			t.Fatalf("Localize() error = %v", err)
		}
		if local.ChannelID != s.sub.ID || local.Name != "a.pdf" || local.Size != 7 {
			t.Errorf("copy = %+v, want a.pdf from channel a", local)
		}

		same, err := s.Localize(ctx, tester, f.ChannelSetID, s.sub.ID)
		if err != nil || same.ID != local.ID {
			t.Errorf("second Localize() = %v, %v; want existing copy %d", same, err, local.ID)
		}
	})

	t.Run("invalid channels", func(t *testing.T) {
		s := newSite(t)
		f := s.file(t, s.root(), "report.pdf")
		for _, ch := range []cr.NodeID{0, s.node.ID} {
			if _, err := s.Localize(ctx, tester, f.ChannelSetID, ch); !errors.Is(err, cr.ErrInvalidChannel) {
				t.Errorf("Localize into %d error = %v, want ErrInvalidChannel", ch, err)
			}
		}
	})

	t.Run("disinherited channel", func(t *testing.T) {
		s := newSite(t)
		f := s.file(t, s.root(), "report.pdf")
		if _, err := s.SetDisinheritance(ctx, tester, f.ChannelSetID, cr.DisinheritRequest{Excluded: []cr.NodeID{s.b.ID}}); err != nil {
			t.Fatalf("SetDisinheritance() error = %v", err)
		}
		if _, err := s.Localize(ctx, tester, f.ChannelSetID, s.b.ID); !errors.Is(err, cr.ErrNotVisible) {
			t.Errorf("error = %v, want ErrNotVisible", err)
		}
	})

	t.Run("copy in the wastebin", func(t *testing.T) {
		s := newSite(t)
		f := s.file(t, s.root(), "report.pdf")
		local, err := s.Localize(ctx, tester, f.ChannelSetID, s.a.ID)
		if err != nil {
			t.Fatalf("Localize() error = %v", err)
		}
		if err := s.DB.SetDeleted(ctx, []cr.ObjectID{local.ID}, true, time.Now(), tester); err != nil {
			t.Fatalf("SetDeleted() error = %v", err)
		}

		if _, err := s.Localize(ctx, tester, f.ChannelSetID, s.a.ID); !errors.Is(err, cr.ErrCopyInWastebin) {
			t.Errorf("error = %v, want ErrCopyInWastebin", err)
		}
	})
}

func TestCRService_Unlocalize(t *testing.T) {
	ctx := context.Background()
	s := newSite(t)
	f := s.file(t, s.root(), "report.pdf")
	if _, err := s.Rename(ctx, tester, f.ChannelSetID, s.a.ID, "a.pdf"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	if err := s.Unlocalize(ctx, tester, f.ChannelSetID, s.a.ID); err != nil {
		t.Fatalf("Unlocalize() error = %v", err)
	}
	r, err := s.Resolve(ctx, f.ChannelSetID, s.sub.ID)
	if err != nil || r.Variant.ID != f.ID {
		t.Errorf("Resolve in sub = %v, %v; want master again", r, err)
	}

	if err := s.Unlocalize(ctx, tester, f.ChannelSetID, s.a.ID); !errors.Is(err, cr.ErrNotFound) {
		t.Errorf("second Unlocalize() error = %v, want ErrNotFound", err)
	}
	if err := s.Unlocalize(ctx, tester, f.ChannelSetID, 0); !errors.Is(err, cr.ErrInvalidChannel) {
		t.Errorf("Unlocalize(0) error = %v, want ErrInvalidChannel", err)
	}
}
