package cr

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cr-go/internal/wastebin"
)

// DisinheritRequest replaces the exclusion settings of a logical object.
type DisinheritRequest struct {
	Default  bool
	Excluded []NodeID
	Included []NodeID
	// Recursive also excludes every channel below an excluded one unless
	// it is listed in Included.
	Recursive bool
}

// DisinheritResult reports the stored settings and the channels whose
// localized copies became invisible because of them.
type DisinheritResult struct {
	Disinheritance Disinheritance
	Orphaned       []NodeID
}

// SetDisinheritance rewrites the exclusion settings on the master of a
// logical object. Localized copies in newly excluded channels are kept but
// no longer resolve.
func (s *CRService) SetDisinheritance(ctx context.Context, principal Principal, channelSetID ObjectID, req DisinheritRequest) (*DisinheritResult, error) {
	return Locked(ctx, s.locker, ChannelSetKey(channelSetID), s.lockTimeout, func(ctx context.Context) (*DisinheritResult, error) {
		variants, err := s.Variants(ctx, channelSetID)
		if err != nil {
			return nil, err
		}
		byChannel, err := IndexChannelSet(channelSetID, variants)
		if err != nil {
			return nil, err
		}
		master := byChannel[0]

		tree, err := LoadTree(ctx, s.store, master.NodeID)
		if err != nil {
			return nil, err
		}
		d, err := NormalizeDisinheritance(tree, Disinheritance{
			Default:  req.Default,
			Excluded: req.Excluded,
			Included: req.Included,
		}, req.Recursive)
		if err != nil {
			return nil, err
		}
		if err := s.propagator.Allowed(ctx, principal, master, ActionEdit, 0); err != nil {
			return nil, err
		}

		now := s.clock.Now()
		if err := s.store.InTx(ctx, func(tx Store) error { return tx.UpdateDisinheritance(ctx, master.ID, d, now) }); err != nil {
			return nil, fmt.Errorf("storing disinheritance of %d: %w", channelSetID, err)
		}

		orphaned := OrphanedOverrides(variants, d)
		if len(orphaned) > 0 {
			s.logger.Warn("localized copies hidden by disinheritance", "channel_set", channelSetID, "channels", orphaned)
		}
		s.logger.Info("disinheritance changed", "channel_set", channelSetID,
			"default", d.Default, "excluded", d.Excluded, "included", d.Included)
		return &DisinheritResult{Disinheritance: d, Orphaned: orphaned}, nil
	})
}

// SetDisinheritanceIn is SetDisinheritance addressed through the variant
// seen in channel; it fails if that variant is a localized copy.
func (s *CRService) SetDisinheritanceIn(ctx context.Context, principal Principal, channelSetID ObjectID, channel NodeID, req DisinheritRequest) (*DisinheritResult, error) {
	r, err := s.resolve(wastebin.With(ctx, wastebin.Exclude), channelSetID, channel)
	if err != nil {
		return nil, err
	}
	if !r.Variant.IsMaster() {
		return nil, fmt.Errorf("object %d in channel %d: %w", r.Variant.ID, channel, ErrLocalizedDisinherit)
	}
	return s.SetDisinheritance(ctx, principal, channelSetID, req)
}

// Translate returns the page of the given page's content set that is in
// language, creating it next to the original if none exists yet. The
// boolean reports whether a new page was created.
func (s *CRService) Translate(ctx context.Context, principal Principal, pageID ObjectID, language string) (*Object, bool, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return nil, false, fmt.Errorf("language must not be empty")
	}

	r, err := s.resolve(wastebin.With(ctx, wastebin.Exclude), pageID, 0)
	if err != nil {
		return nil, false, err
	}
	page := r.Variant
	if page.Type != TypePage {
		return nil, false, fmt.Errorf("object %d is a %s, not a page", pageID, page.Type)
	}
	name := translatedName(page.Name, language)

	keys := []LockKey{
		ContentSetKey(page.ContentSetID),
		FolderKey(page.FolderID),
		NameInFolderKey(page.FolderID, SanitizeName(name)),
	}
	var (
		out     *Object
		created bool
	)
	err = LockedAll(ctx, s.locker, keys, s.lockTimeout, func(ctx context.Context) error {
		ctx = wastebin.With(ctx, wastebin.Exclude)
		existing, err := s.findTranslation(ctx, page.ContentSetID, language)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		if _, err := s.liveParent(ctx, page.FolderID, 0); err != nil {
			return err
		}
		if err := s.propagator.Allowed(ctx, principal, page, ActionTranslate, 0); err != nil {
			return err
		}
		conflict, err := s.findNameConflict(ctx, r.tree.Root(), page.FolderID, 0, TypePage, name, 0)
		if err != nil {
			return err
		}
		if conflict != nil {
			return fmt.Errorf("%q in folder %d: %w", name, page.FolderID, ErrNameConflict)
		}

		now := s.clock.Now()
		obj := &Object{
			NodeID:         page.NodeID,
			FolderID:       page.FolderID,
			Type:           TypePage,
			Name:           name,
			ContentSetID:   page.ContentSetID,
			Language:       language,
			Disinheritance: page.Disinheritance.Clone(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.InTx(ctx, func(tx Store) error { return tx.InsertObject(ctx, obj) }); err != nil {
			return fmt.Errorf("creating translation: %w", err)
		}

		s.logger.Info("page translated", "page", pageID, "translation", obj.ID, "language", language)
		out, created = obj, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// ListTranslations returns the live master pages of a content set.
func (s *CRService) ListTranslations(ctx context.Context, contentSetID int64) ([]*Object, error) {
	ids, err := s.store.ListContentSet(ctx, contentSetID)
	if err != nil {
		return nil, fmt.Errorf("listing content set %d: %w", contentSetID, err)
	}
	var out []*Object
	for _, id := range ids {
		r, err := s.resolve(wastebin.With(ctx, wastebin.Exclude), id, 0)
		if isHidden(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r.Variant)
	}
	return out, nil
}

func (s *CRService) findTranslation(ctx context.Context, contentSetID int64, language string) (*Object, error) {
	pages, err := s.ListTranslations(ctx, contentSetID)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if strings.EqualFold(p.Language, language) {
			return p, nil
		}
	}
	return nil, nil
}

// translatedName inserts the language before the extension:
// "index.html" becomes "index.de.html".
func translatedName(name, language string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + strings.ToLower(language) + ext
}
