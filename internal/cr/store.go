package cr

import (
	"context"
	"time"
)

// Store is the object store the core reads variants and nodes from.
// Lookups of single records return nil, nil when nothing matches.
type Store interface {
	// Node tree

	// CreateNode inserts a root node or channel and assigns its ID. For a
	// root node RootID is set to the new ID.
	CreateNode(ctx context.Context, node *Node) error

	// FindNode returns a node or channel by id.
	FindNode(ctx context.Context, id NodeID) (*Node, error)

	// FindNodeByName returns the node or channel with the given name.
	FindNodeByName(ctx context.Context, name string) (*Node, error)

	// LoadChildren returns every channel attached to the root node, at any depth.
	LoadChildren(ctx context.Context, rootID NodeID) ([]*Node, error)

	// ListRootNodes returns all root nodes ordered by id.
	ListRootNodes(ctx context.Context) ([]*Node, error)

	// SetRootFolder records the channel set id of a node's root folder.
	SetRootFolder(ctx context.Context, nodeID NodeID, folderID ObjectID) error

	// Objects

	// LoadByChannelSet returns every physical variant of a logical object,
	// deleted or not, ordered by id.
	LoadByChannelSet(ctx context.Context, channelSetID ObjectID) ([]*Object, error)

	// ListChildChannelSets returns the distinct channel set ids of all rows
	// whose parent folder is folderID.
	ListChildChannelSets(ctx context.Context, folderID ObjectID) ([]ObjectID, error)

	// ListNodeChannelSets returns the distinct channel set ids of all rows in a node.
	ListNodeChannelSets(ctx context.Context, nodeID NodeID) ([]ObjectID, error)

	// ListContentSet returns the channel set ids of all pages in a content set.
	ListContentSet(ctx context.Context, contentSetID int64) ([]ObjectID, error)

	// InsertObject stores a new row and assigns its ID. A zero ChannelSetID
	// is replaced by the new ID (a fresh master).
	InsertObject(ctx context.Context, obj *Object) error

	// UpdateObject rewrites name, size, language and content set of a row.
	// Disinheritance is left as stored.
	UpdateObject(ctx context.Context, obj *Object) error

	// UpdateDisinheritance replaces the exclusion settings of a row.
	UpdateDisinheritance(ctx context.Context, id ObjectID, d Disinheritance, at time.Time) error

	// RemoveObject physically drops a row. Only used to unlocalize.
	RemoveObject(ctx context.Context, id ObjectID) error

	// SetDeleted flips the wastebin flag of the given rows.
	SetDeleted(ctx context.Context, ids []ObjectID, deleted bool, at time.Time, by Principal) error

	// Operation audit

	CreateOperation(ctx context.Context, operation, parameters string) (*Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	ListOperations(ctx context.Context, limit int) ([]*Operation, error)

	// InTx runs fn against a Store bound to one transaction. The transaction
	// commits if fn returns nil and rolls back otherwise. Calling InTx on a
	// transaction-bound Store runs fn in the same transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// Close closes the underlying connection.
	Close() error
}

// PermissionEvaluator answers whether a principal may perform action on obj
// when operating in the given channel (0 means the object's root node).
type PermissionEvaluator interface {
	HasPermission(ctx context.Context, principal Principal, obj *Object, action Action, channelID NodeID) (bool, error)
}
