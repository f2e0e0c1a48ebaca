package cr

import (
	"slices"
	"time"
)

// NodeID identifies a root Node or a Channel. Zero means "no channel context".
type NodeID int64

// ObjectID identifies a physical object row or, when used as a channel set
// id, the logical object shared by all of its variants.
type ObjectID int64

// Principal is the acting user of an operation.
type Principal string

// ObjectType enumerates the content object kinds sharing the substrate.
type ObjectType string

const (
	TypeFolder ObjectType = "folder"
	TypeFile   ObjectType = "file"
	TypeImage  ObjectType = "image"
	TypePage   ObjectType = "page"
)

// Valid reports whether t is one of the known object types.
func (t ObjectType) Valid() bool {
	switch t {
	case TypeFolder, TypeFile, TypeImage, TypePage:
		return true
	}
	return false
}

// Node is either a root Node (MasterID == 0) or a Channel. Channels are all
// attached to their RootID regardless of how deep their master chain is.
type Node struct {
	ID            NodeID
	Name          string
	MasterID      NodeID
	RootID        NodeID
	PubDirSegment bool
	RootFolderID  ObjectID // channel set id of the node's root folder
	CreatedAt     time.Time
}

// IsChannel returns true if the node overlays another node.
func (n *Node) IsChannel() bool {
	return n.MasterID != 0
}

// Ownership is the tagged variant of an object row: either the master or a
// copy localized into exactly one channel.
type Ownership struct {
	channel NodeID
}

// Master returns the ownership of a master row.
func Master() Ownership { return Ownership{} }

// Localized returns the ownership of a row tied to channel.
func Localized(channel NodeID) Ownership { return Ownership{channel: channel} }

// IsMaster returns true for the master variant.
func (o Ownership) IsMaster() bool { return o.channel == 0 }

// Channel returns the owning channel, 0 for the master.
func (o Ownership) Channel() NodeID { return o.channel }

// Disinheritance holds the exclusion settings of a logical object. Only the
// master's settings are authoritative.
type Disinheritance struct {
	// Default excludes every channel not listed in Included.
	Default  bool
	Excluded []NodeID
	Included []NodeID
}

// Clone returns a deep copy.
func (d Disinheritance) Clone() Disinheritance {
	return Disinheritance{
		Default:  d.Default,
		Excluded: slices.Clone(d.Excluded),
		Included: slices.Clone(d.Included),
	}
}

// Object is one physical row of a logical content object.
type Object struct {
	ID           ObjectID
	ChannelSetID ObjectID
	ChannelID    NodeID // ownerChannelId; 0 for the master
	NodeID       NodeID // root node the object belongs to
	FolderID     ObjectID
	Type         ObjectType
	Name         string
	ContentSetID int64  // pages only; translations share it
	Language     string // pages only
	Size         int64

	Deleted   bool
	DeletedAt time.Time
	DeletedBy Principal

	Disinheritance Disinheritance

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMaster returns true iff the row is not owned by a specific channel.
func (o *Object) IsMaster() bool {
	return o.ChannelID == 0
}

// Ownership returns the row's tagged ownership.
func (o *Object) Ownership() Ownership {
	return Localized(o.ChannelID)
}

// Clone returns a copy that shares no slices with o.
func (o *Object) Clone() *Object {
	c := *o
	c.Disinheritance = o.Disinheritance.Clone()
	return &c
}

func (o *Object) ChannelSet() ObjectID               { return o.ChannelSetID }
func (o *Object) OwnerChannel() NodeID               { return o.ChannelID }
func (o *Object) IsDeleted() bool                    { return o.Deleted }
func (o *Object) DisinheritSettings() Disinheritance { return o.Disinheritance }

// Resolvable is what the channel set resolver needs from a variant row.
type Resolvable interface {
	ChannelSet() ObjectID
	OwnerChannel() NodeID
	IsDeleted() bool
}

// Disinheritable exposes the exclusion settings stored on a row.
type Disinheritable interface {
	DisinheritSettings() Disinheritance
}

var (
	_ Resolvable     = (*Object)(nil)
	_ Disinheritable = (*Object)(nil)
)

// ChannelSet is the derived mapping channelId -> localId of one logical object.
type ChannelSet map[NodeID]ObjectID

// NewChannelSet builds the mapping from the given variants. Later duplicates
// overwrite earlier ones; consistency is checked by the resolver, not here.
func NewChannelSet[T Resolvable](variants []T, id func(T) ObjectID) ChannelSet {
	cs := make(ChannelSet, len(variants))
	for _, v := range variants {
		cs[v.OwnerChannel()] = id(v)
	}
	return cs
}

// Channels returns the non-zero channel ids of the set in ascending order.
func (cs ChannelSet) Channels() []NodeID {
	var ids []NodeID
	for ch := range cs {
		if ch != 0 {
			ids = append(ids, ch)
		}
	}
	slices.Sort(ids)
	return ids
}

// Action is a permission-gated operation.
type Action string

const (
	ActionView      Action = "view"
	ActionCreate    Action = "create"
	ActionEdit      Action = "edit"
	ActionDelete    Action = "delete"
	ActionRestore   Action = "restore"
	ActionTranslate Action = "translate"
)

// AllActions lists every action in a stable order.
func AllActions() []Action {
	return []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionRestore, ActionTranslate}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionCreate, ActionEdit, ActionDelete, ActionRestore, ActionTranslate:
		return true
	}
	return false
}

// Operation is an audit record of a mutating command.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Operation  string
	Parameters string
	Status     string
}
