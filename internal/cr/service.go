package cr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cr-go/internal/wastebin"
)

const (
	DefaultLockTimeout       = 10 * time.Second
	DefaultImportConcurrency = 4
)

// CRService is the orchestration layer on top of the object store. It owns
// the resolution rules and runs every mutation under the lock keys of the
// resources it touches.
type CRService struct {
	store       Store
	propagator  *Propagator
	locker      Locker
	logger      Logger
	clock       Clock
	lockTimeout time.Duration
	importLimit int
}

// Option tunes a CRService.
type Option func(*CRService)

// WithLockTimeout sets the timeout passed to the locker on every acquisition.
func WithLockTimeout(d time.Duration) Option {
	return func(s *CRService) { s.lockTimeout = d }
}

// WithImportConcurrency bounds how many files ImportTree creates at once.
func WithImportConcurrency(n int) Option {
	return func(s *CRService) {
		if n > 0 {
			s.importLimit = n
		}
	}
}

// NewCRService creates a new CRService with the provided dependencies.
func NewCRService(store Store, perms PermissionEvaluator, locker Locker, logger Logger, clock Clock, opts ...Option) *CRService {
	s := &CRService{
		store:       store,
		propagator:  NewPropagator(perms),
		locker:      locker,
		logger:      logger,
		clock:       clock,
		lockTimeout: DefaultLockTimeout,
		importLimit: DefaultImportConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolution is a resolve result together with what it was computed from.
type resolution struct {
	Resolved
	variants []*Object
	tree     *Tree
}

func (r *resolution) master() *Object { return MasterOf(r.variants) }

// resolve runs the resolution rules for one channel set in channel, using the
// wastebin mode carried by ctx.
func (s *CRService) resolve(ctx context.Context, channelSetID ObjectID, channel NodeID) (*resolution, error) {
	variants, err := s.store.LoadByChannelSet(ctx, channelSetID)
	if err != nil {
		return nil, fmt.Errorf("loading channel set %d: %w", channelSetID, err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("channel set %d: %w", channelSetID, ErrNotFound)
	}
	if _, err := IndexChannelSet(channelSetID, variants); err != nil {
		return nil, err
	}

	tree, err := LoadTree(ctx, s.store, variants[0].NodeID)
	if err != nil {
		return nil, err
	}
	if channel != 0 && !tree.Contains(channel) {
		return nil, &NotVisibleError{ChannelSetID: channelSetID, ChannelID: channel, Reason: ReasonForeignNode}
	}
	chain, err := tree.MasterChain(channel)
	if err != nil {
		return nil, err
	}

	res, err := ResolveVariant(channelSetID, variants, chain, channel, wastebin.FromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &resolution{Resolved: res, variants: variants, tree: tree}, nil
}

// Resolve returns the variant of a logical object visible in channel under
// the wastebin mode carried by ctx (Exclude when none was set).
func (s *CRService) Resolve(ctx context.Context, channelSetID ObjectID, channel NodeID) (*Resolved, error) {
	r, err := s.resolve(ctx, channelSetID, channel)
	if err != nil {
		return nil, err
	}
	return &r.Resolved, nil
}

// Variants returns the raw physical rows of a logical object.
func (s *CRService) Variants(ctx context.Context, channelSetID ObjectID) ([]*Object, error) {
	variants, err := s.store.LoadByChannelSet(ctx, channelSetID)
	if err != nil {
		return nil, fmt.Errorf("loading channel set %d: %w", channelSetID, err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("channel set %d: %w", channelSetID, ErrNotFound)
	}
	return variants, nil
}

// ListFolder resolves every child of folder in channel. Children that are
// not visible there are skipped; inconsistent channel sets abort the listing.
func (s *CRService) ListFolder(ctx context.Context, folderID ObjectID, channel NodeID) ([]*Resolved, error) {
	parent, err := s.resolve(ctx, folderID, channel)
	if err != nil {
		return nil, err
	}
	if parent.Variant.Type != TypeFolder {
		return nil, fmt.Errorf("object %d is a %s, not a folder", folderID, parent.Variant.Type)
	}

	ids, err := s.store.ListChildChannelSets(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %d: %w", folderID, err)
	}

	var out []*Resolved
	for _, id := range ids {
		r, err := s.resolve(ctx, id, channel)
		if isHidden(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &r.Resolved)
	}
	sortResolved(out)
	return out, nil
}

// findNameConflict returns the live sibling in channel's view of folderID
// that competes with name, ignoring the channel set except.
func (s *CRService) findNameConflict(ctx context.Context, node *Node, folderID ObjectID, channel NodeID, t ObjectType, name string, except ObjectID) (*Object, error) {
	ids, err := s.store.ListChildChannelSets(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %d: %w", folderID, err)
	}

	ctx = wastebin.With(ctx, wastebin.Exclude)
	want := uniquenessKey(t, name, node.PubDirSegment)
	for _, id := range ids {
		if id == except {
			continue
		}
		r, err := s.resolve(ctx, id, channel)
		if isHidden(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sib := r.Variant
		if sameNamespace(t, sib.Type) && uniquenessKey(sib.Type, sib.Name, node.PubDirSegment) == want {
			return sib, nil
		}
	}
	return nil, nil
}

// liveParent resolves folderID as the parent of a new or restored object.
func (s *CRService) liveParent(ctx context.Context, folderID ObjectID, channel NodeID) (*resolution, error) {
	parent, err := s.resolve(wastebin.With(ctx, wastebin.Exclude), folderID, channel)
	var nv *NotVisibleError
	if errors.As(err, &nv) && nv.Reason == ReasonWastebin {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrParentInWastebin)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving parent folder: %w", err)
	}
	if parent.Variant.Type != TypeFolder {
		return nil, fmt.Errorf("object %d is a %s, not a folder", folderID, parent.Variant.Type)
	}
	return parent, nil
}

// isHidden reports a channel set that exists but is suppressed in the
// current view.
func isHidden(err error) bool {
	return errors.Is(err, ErrNotVisible)
}

func sortResolved(rs []*Resolved) {
	slices.SortFunc(rs, func(a, b *Resolved) int {
		if c := strings.Compare(strings.ToLower(a.Variant.Name), strings.ToLower(b.Variant.Name)); c != 0 {
			return c
		}
		return int(a.Variant.ChannelSetID - b.Variant.ChannelSetID)
	})
}
