package cr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cr-go/internal/wastebin"
)

// ConflictPolicy decides what CreateObject does when the name is taken.
type ConflictPolicy int

const (
	// ConflictFail rejects the create with ErrNameConflict.
	ConflictFail ConflictPolicy = iota
	// ConflictOverwrite updates the existing sibling when it has the same
	// type. Folders are returned unchanged.
	ConflictOverwrite
)

// CreateRequest describes a new master object.
type CreateRequest struct {
	FolderID   ObjectID // channel set id of the parent folder
	ChannelID  NodeID   // channel the request runs in, 0 for the root node
	Type       ObjectType
	Name       string
	Size       int64
	Language   string // pages only
	OnConflict ConflictPolicy
}

// CreateObject creates a new master object below req.FolderID. New objects
// start out with the disinheritance settings of their parent folder.
func (s *CRService) CreateObject(ctx context.Context, principal Principal, req CreateRequest) (*Object, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown object type %q", req.Type)
	}
	name := strings.TrimSpace(req.Name)
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return nil, fmt.Errorf("invalid object name %q", req.Name)
	}

	keys := []LockKey{FolderKey(req.FolderID), NameInFolderKey(req.FolderID, sanitized)}
	var created *Object
	err := LockedAll(ctx, s.locker, keys, s.lockTimeout, func(ctx context.Context) error {
		parent, err := s.liveParent(ctx, req.FolderID, req.ChannelID)
		if err != nil {
			return err
		}
		if err := s.propagator.Allowed(ctx, principal, parent.Variant, ActionCreate, req.ChannelID); err != nil {
			return err
		}

		conflict, err := s.findNameConflict(ctx, parent.tree.Root(), req.FolderID, req.ChannelID, req.Type, name, 0)
		if err != nil {
			return err
		}
		if conflict != nil {
			if req.OnConflict != ConflictOverwrite || conflict.Type != req.Type {
				return fmt.Errorf("%q in folder %d: %w", name, req.FolderID, ErrNameConflict)
			}
			created, err = s.overwrite(ctx, principal, conflict, req)
			return err
		}

		now := s.clock.Now()
		obj := &Object{
			NodeID:         parent.Variant.NodeID,
			FolderID:       req.FolderID,
			Type:           req.Type,
			Name:           name,
			Size:           req.Size,
			Disinheritance: parent.master().Disinheritance.Clone(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if req.Type == TypePage {
			obj.Language = req.Language
		}
		err = s.store.InTx(ctx, func(tx Store) error {
			if err := tx.InsertObject(ctx, obj); err != nil {
				return fmt.Errorf("inserting object: %w", err)
			}
			if obj.Type == TypePage && obj.ContentSetID == 0 {
				obj.ContentSetID = int64(obj.ID)
				return tx.UpdateObject(ctx, obj)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Info("object created", "id", obj.ID, "type", obj.Type, "name", obj.Name, "folder", req.FolderID, "channel", req.ChannelID)
		created = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *CRService) overwrite(ctx context.Context, principal Principal, existing *Object, req CreateRequest) (*Object, error) {
	if existing.Type == TypeFolder {
		return existing, nil
	}
	if err := s.propagator.Allowed(ctx, principal, existing, ActionEdit, req.ChannelID); err != nil {
		return nil, err
	}

	obj := existing.Clone()
	obj.Size = req.Size
	obj.UpdatedAt = s.clock.Now()
	if err := s.store.InTx(ctx, func(tx Store) error { return tx.UpdateObject(ctx, obj) }); err != nil {
		return nil, fmt.Errorf("overwriting object %d: %w", obj.ID, err)
	}
	s.logger.Info("object overwritten", "id", obj.ID, "name", obj.Name, "channel", req.ChannelID)
	return obj, nil
}

// Rename renames the variant of a logical object seen in channel. Renaming
// in a channel that still inherits the master localizes the object first.
func (s *CRService) Rename(ctx context.Context, principal Principal, channelSetID ObjectID, channel NodeID, newName string) (*Object, error) {
	name := strings.TrimSpace(newName)
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return nil, fmt.Errorf("invalid object name %q", newName)
	}

	variants, err := s.Variants(ctx, channelSetID)
	if err != nil {
		return nil, err
	}
	folderID := variants[0].FolderID

	keys := []LockKey{LocalizationKey(channelSetID, channel), NameInFolderKey(folderID, sanitized)}
	var renamed *Object
	err = LockedAll(ctx, s.locker, keys, s.lockTimeout, func(ctx context.Context) error {
		ctx = wastebin.With(ctx, wastebin.Exclude)
		r, err := s.resolve(ctx, channelSetID, channel)
		if err != nil {
			return err
		}
		if err := s.propagator.Allowed(ctx, principal, r.Variant, ActionEdit, channel); err != nil {
			return err
		}
		if folderID != 0 {
			conflict, err := s.findNameConflict(ctx, r.tree.Root(), folderID, channel, r.Variant.Type, name, channelSetID)
			if err != nil {
				return err
			}
			if conflict != nil {
				return fmt.Errorf("%q in folder %d: %w", name, folderID, ErrNameConflict)
			}
		}

		target := r.Variant
		if channel != 0 && channel != r.tree.Root().ID && target.ChannelID != channel {
			if target, err = s.Localize(ctx, principal, channelSetID, channel); err != nil {
				return err
			}
		}

		obj := target.Clone()
		obj.Name = name
		obj.UpdatedAt = s.clock.Now()
		if err := s.store.InTx(ctx, func(tx Store) error { return tx.UpdateObject(ctx, obj) }); err != nil {
			return fmt.Errorf("renaming object %d: %w", obj.ID, err)
		}

		s.logger.Info("object renamed", "id", obj.ID, "channel_set", channelSetID, "channel", channel, "name", name)
		renamed = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// Localize creates the copy of a logical object owned by channel, starting
// from the variant channel currently inherits. If channel already owns the
// visible variant it is returned as is.
func (s *CRService) Localize(ctx context.Context, principal Principal, channelSetID ObjectID, channel NodeID) (*Object, error) {
	if channel == 0 {
		return nil, fmt.Errorf("%w: localizing requires a channel", ErrInvalidChannel)
	}

	return Locked(ctx, s.locker, LocalizationKey(channelSetID, channel), s.lockTimeout, func(ctx context.Context) (*Object, error) {
		r, err := s.resolve(wastebin.With(ctx, wastebin.Exclude), channelSetID, channel)
		if err != nil {
			return nil, err
		}
		if r.Variant.ChannelID == channel {
			return r.Variant, nil
		}
		if n, _ := r.tree.Node(channel); !n.IsChannel() {
			return nil, fmt.Errorf("%w: %d is a root node", ErrInvalidChannel, channel)
		}
		if hidden := VariantIn(r.variants, channel); hidden != nil {
			return nil, fmt.Errorf("channel %d holds copy %d of %d: %w", channel, hidden.ID, channelSetID, ErrCopyInWastebin)
		}
		if err := s.propagator.Allowed(ctx, principal, r.Variant, ActionEdit, channel); err != nil {
			return nil, err
		}

		now := s.clock.Now()
		obj := r.Variant.Clone()
		obj.ID = 0
		obj.ChannelSetID = channelSetID
		obj.ChannelID = channel
		obj.Deleted = false
		obj.DeletedAt = time.Time{}
		obj.DeletedBy = ""
		obj.Disinheritance = Disinheritance{}
		obj.CreatedAt = now
		obj.UpdatedAt = now
		if err := s.store.InTx(ctx, func(tx Store) error { return tx.InsertObject(ctx, obj) }); err != nil {
			return nil, fmt.Errorf("localizing %d into channel %d: %w", channelSetID, channel, err)
		}

		s.logger.Info("object localized", "id", obj.ID, "channel_set", channelSetID, "channel", channel)
		return obj, nil
	})
}

// Unlocalize removes the copy owned by channel so the channel inherits
// again from its master chain.
func (s *CRService) Unlocalize(ctx context.Context, principal Principal, channelSetID ObjectID, channel NodeID) error {
	if channel == 0 {
		return fmt.Errorf("%w: the master cannot be unlocalized", ErrInvalidChannel)
	}

	return s.locker.ExecuteLocked(ctx, LocalizationKey(channelSetID, channel), s.lockTimeout, func(ctx context.Context) error {
		variants, err := s.Variants(ctx, channelSetID)
		if err != nil {
			return err
		}
		row := VariantIn(variants, channel)
		if row == nil {
			return fmt.Errorf("no copy of %d in channel %d: %w", channelSetID, channel, ErrNotFound)
		}
		if err := s.propagator.Allowed(ctx, principal, row, ActionEdit, channel); err != nil {
			return err
		}
		if err := s.store.InTx(ctx, func(tx Store) error { return tx.RemoveObject(ctx, row.ID) }); err != nil {
			return fmt.Errorf("removing copy %d: %w", row.ID, err)
		}

		s.logger.Info("object unlocalized", "id", row.ID, "channel_set", channelSetID, "channel", channel)
		return nil
	})
}
