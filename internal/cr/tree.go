package cr

import (
	"context"
	"fmt"
	"slices"
)

// Tree is the in-memory hierarchy of one root node and all of its channels.
// Nodes are referenced by id; walks are iterative and guarded by a visited
// set so corrupt master links surface as a ConsistencyViolationError.
type Tree struct {
	root     *Node
	nodes    map[NodeID]*Node
	children map[NodeID][]NodeID
}

// NewTree builds a tree from a root node and the channels attached to it.
func NewTree(root *Node, channels []*Node) (*Tree, error) {
	if root == nil || root.IsChannel() {
		return nil, fmt.Errorf("%w: tree root must be a root node", ErrInvalidChannel)
	}

	t := &Tree{
		root:     root,
		nodes:    map[NodeID]*Node{root.ID: root},
		children: make(map[NodeID][]NodeID),
	}
	for _, ch := range channels {
		if ch.RootID != root.ID {
			return nil, fmt.Errorf("%w: channel %d belongs to node %d, not %d", ErrInvalidChannel, ch.ID, ch.RootID, root.ID)
		}
		t.nodes[ch.ID] = ch
	}
	for _, ch := range channels {
		if _, ok := t.nodes[ch.MasterID]; !ok {
			return nil, &ConsistencyViolationError{ChannelID: ch.ID, Detail: fmt.Sprintf("master %d is not part of the tree", ch.MasterID)}
		}
		t.children[ch.MasterID] = append(t.children[ch.MasterID], ch.ID)
	}
	for _, ids := range t.children {
		slices.Sort(ids)
	}
	return t, nil
}

// LoadTree loads the tree containing nodeID, which may be a root or a channel.
func LoadTree(ctx context.Context, store Store, nodeID NodeID) (*Tree, error) {
	node, err := store.FindNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: node %d does not exist", ErrInvalidChannel, nodeID)
	}

	root := node
	if node.IsChannel() {
		root, err = store.FindNode(ctx, node.RootID)
		if err != nil {
			return nil, fmt.Errorf("finding root node: %w", err)
		}
		if root == nil {
			return nil, &ConsistencyViolationError{ChannelID: nodeID, Detail: fmt.Sprintf("root node %d missing", node.RootID)}
		}
	}

	channels, err := store.LoadChildren(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	return NewTree(root, channels)
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Node returns the node or channel with the given id.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Contains reports whether id is the root or one of its channels.
func (t *Tree) Contains(id NodeID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Channels returns all channel ids in ascending order.
func (t *Tree) Channels() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes)-1)
	for id := range t.nodes {
		if id != t.root.ID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// MasterChain returns [id, master(id), ..., root]. Channel 0 yields [root].
func (t *Tree) MasterChain(id NodeID) ([]NodeID, error) {
	if id == 0 {
		return []NodeID{t.root.ID}, nil
	}
	if !t.Contains(id) {
		return nil, fmt.Errorf("%w: %d is not part of node %d", ErrInvalidChannel, id, t.root.ID)
	}

	var chain []NodeID
	visited := make(map[NodeID]bool)
	for cur := id; ; {
		if visited[cur] {
			return nil, &ConsistencyViolationError{ChannelID: id, Detail: fmt.Sprintf("master chain cycles at %d", cur)}
		}
		visited[cur] = true
		chain = append(chain, cur)

		n := t.nodes[cur]
		if !n.IsChannel() {
			return chain, nil
		}
		cur = n.MasterID
	}
}

// Descendants returns every channel below id in depth-first pre-order,
// excluding id itself.
func (t *Tree) Descendants(id NodeID) []NodeID {
	var out []NodeID
	visited := map[NodeID]bool{id: true}
	stack := slices.Clone(t.children[id])
	slices.Reverse(stack)

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)

		kids := t.children[cur]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

// IsAncestor reports whether anc appears in the master chain of id above id.
func (t *Tree) IsAncestor(anc, id NodeID) bool {
	chain, err := t.MasterChain(id)
	if err != nil {
		return false
	}
	return slices.Contains(chain[1:], anc)
}
