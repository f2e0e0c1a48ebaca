package cr_test

import (
	"errors"
	"slices"
	"testing"

	"cr-go/internal/cr"
)

func TestIsExcluded(t *testing.T) {
	tests := []struct {
		name    string
		d       cr.Disinheritance
		channel cr.NodeID
		want    bool
	}{
		{"nothing set", cr.Disinheritance{}, 2, false},
		{"listed", cr.Disinheritance{Excluded: []cr.NodeID{2}}, 2, true},
		{"not listed", cr.Disinheritance{Excluded: []cr.NodeID{2}}, 3, false},
		{"default hides", cr.Disinheritance{Default: true}, 2, true},
		{"default with allow-list", cr.Disinheritance{Default: true, Included: []cr.NodeID{2}}, 2, false},
		{"explicit exclusion wins", cr.Disinheritance{Default: true, Included: []cr.NodeID{2}, Excluded: []cr.NodeID{2}}, 2, true},
		{"channel zero", cr.Disinheritance{Default: true}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cr.IsExcluded(tt.d, tt.channel); got != tt.want {
				t.Errorf("IsExcluded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeDisinheritance(t *testing.T) {
	tree := testTree(t)

	t.Run("sorts and deduplicates", func(t *testing.T) {
		got, err := cr.NormalizeDisinheritance(tree, cr.Disinheritance{Excluded: []cr.NodeID{4, 2, 4}}, false)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if !slices.Equal(got.Excluded, []cr.NodeID{2, 4}) {
			t.Errorf("Excluded = %v, want [2 4]", got.Excluded)
		}
	})

	t.Run("recursive drags descendants", func(t *testing.T) {
		got, err := cr.NormalizeDisinheritance(tree, cr.Disinheritance{Excluded: []cr.NodeID{2}}, true)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if !slices.Equal(got.Excluded, []cr.NodeID{2, 3, 5}) {
			t.Errorf("Excluded = %v, want [2 3 5]", got.Excluded)
		}
	})

	t.Run("recursive respects inclusions", func(t *testing.T) {
		got, err := cr.NormalizeDisinheritance(tree, cr.Disinheritance{Excluded: []cr.NodeID{2}, Included: []cr.NodeID{5}}, true)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if !slices.Equal(got.Excluded, []cr.NodeID{2, 3}) || !slices.Equal(got.Included, []cr.NodeID{5}) {
			t.Errorf("got %+v, want excluded [2 3] included [5]", got)
		}
	})

	for _, bad := range []cr.NodeID{1, 42} {
		if _, err := cr.NormalizeDisinheritance(tree, cr.Disinheritance{Excluded: []cr.NodeID{bad}}, false); !errors.Is(err, cr.ErrInvalidChannel) {
			t.Errorf("channel %d: error = %v, want ErrInvalidChannel", bad, err)
		}
	}
}

func TestOrphanedOverrides(t *testing.T) {
	variants := []*cr.Object{variant(1, 1, 0), variant(2, 1, 3), variant(3, 1, 4)}

	got := cr.OrphanedOverrides(variants, cr.Disinheritance{Excluded: []cr.NodeID{3, 5}})
	if !slices.Equal(got, []cr.NodeID{3}) {
		t.Errorf("OrphanedOverrides() = %v, want [3]", got)
	}
	if got := cr.OrphanedOverrides(variants, cr.Disinheritance{}); len(got) != 0 {
		t.Errorf("OrphanedOverrides() = %v, want none", got)
	}
}

func TestVisibleChannels(t *testing.T) {
	tree := testTree(t)
	d := cr.Disinheritance{Default: true, Included: []cr.NodeID{2, 4}}
	if got := cr.VisibleChannels(tree, d); !slices.Equal(got, []cr.NodeID{2, 4}) {
		t.Errorf("VisibleChannels() = %v, want [2 4]", got)
	}
}
