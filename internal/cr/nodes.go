package cr

import (
	"context"
	"fmt"
	"strings"
)

// CreateNode creates a root node together with its root folder.
func (s *CRService) CreateNode(ctx context.Context, name string, pubDirSegment bool) (*Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("node name must not be empty")
	}

	return Locked(ctx, s.locker, NodeNameKey(name), s.lockTimeout, func(ctx context.Context) (*Node, error) {
		if err := s.checkNodeName(ctx, name); err != nil {
			return nil, err
		}

		now := s.clock.Now()
		node := &Node{Name: name, PubDirSegment: pubDirSegment, CreatedAt: now}
		err := s.store.InTx(ctx, func(tx Store) error {
			if err := tx.CreateNode(ctx, node); err != nil {
				return fmt.Errorf("creating node: %w", err)
			}
			folder := &Object{
				NodeID:    node.ID,
				Type:      TypeFolder,
				Name:      name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertObject(ctx, folder); err != nil {
				return fmt.Errorf("creating root folder: %w", err)
			}
			node.RootFolderID = folder.ChannelSetID
			return tx.SetRootFolder(ctx, node.ID, folder.ChannelSetID)
		})
		if err != nil {
			return nil, err
		}

		s.logger.Info("node created", "node", node.ID, "name", name)
		return node, nil
	})
}

// CreateChannel creates a channel overlaying masterID, which may itself be
// a channel.
func (s *CRService) CreateChannel(ctx context.Context, masterID NodeID, name string) (*Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("channel name must not be empty")
	}

	master, err := s.store.FindNode(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("finding master node: %w", err)
	}
	if master == nil {
		return nil, fmt.Errorf("%w: node %d does not exist", ErrInvalidChannel, masterID)
	}
	root := master
	if master.IsChannel() {
		if root, err = s.store.FindNode(ctx, master.RootID); err != nil {
			return nil, fmt.Errorf("finding root node: %w", err)
		}
		if root == nil {
			return nil, &ConsistencyViolationError{ChannelID: masterID, Detail: fmt.Sprintf("root node %d missing", master.RootID)}
		}
	}

	return Locked(ctx, s.locker, NodeNameKey(name), s.lockTimeout, func(ctx context.Context) (*Node, error) {
		if err := s.checkNodeName(ctx, name); err != nil {
			return nil, err
		}

		ch := &Node{
			Name:          name,
			MasterID:      master.ID,
			RootID:        root.ID,
			PubDirSegment: root.PubDirSegment,
			RootFolderID:  root.RootFolderID,
			CreatedAt:     s.clock.Now(),
		}
		if err := s.store.InTx(ctx, func(tx Store) error { return tx.CreateNode(ctx, ch) }); err != nil {
			return nil, fmt.Errorf("creating channel: %w", err)
		}

		s.logger.Info("channel created", "channel", ch.ID, "master", master.ID, "name", name)
		return ch, nil
	})
}

func (s *CRService) checkNodeName(ctx context.Context, name string) error {
	existing, err := s.store.FindNodeByName(ctx, name)
	if err != nil {
		return fmt.Errorf("checking node name: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("node %q: %w", name, ErrNameConflict)
	}
	return nil
}

// FindNode returns a node or channel by id, or nil if it does not exist.
func (s *CRService) FindNode(ctx context.Context, id NodeID) (*Node, error) {
	n, err := s.store.FindNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding node %d: %w", id, err)
	}
	return n, nil
}

// FindNodeByName returns a node or channel by name, or nil.
func (s *CRService) FindNodeByName(ctx context.Context, name string) (*Node, error) {
	n, err := s.store.FindNodeByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("finding node %q: %w", name, err)
	}
	return n, nil
}

// MasterChain returns the nodes from channel up to and including its root.
func (s *CRService) MasterChain(ctx context.Context, channel NodeID) ([]*Node, error) {
	tree, err := LoadTree(ctx, s.store, channel)
	if err != nil {
		return nil, err
	}
	ids, err := tree.MasterChain(channel)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, _ := tree.Node(id)
		out = append(out, n)
	}
	return out, nil
}

// ListNodes returns every root node followed by its channels in depth-first
// order.
func (s *CRService) ListNodes(ctx context.Context) ([]*Node, error) {
	roots, err := s.store.ListRootNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	var out []*Node
	for _, root := range roots {
		tree, err := LoadTree(ctx, s.store, root.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, root)
		for _, id := range tree.Descendants(root.ID) {
			n, _ := tree.Node(id)
			out = append(out, n)
		}
	}
	return out, nil
}
