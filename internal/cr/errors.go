package cr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no channel set exists for the logical id.
	ErrNotFound = errors.New("object not found")

	// ErrNotVisible matches every *NotVisibleError.
	ErrNotVisible = errors.New("object not visible")

	// ErrInsufficientPrivileges matches every *InsufficientPrivilegesError.
	ErrInsufficientPrivileges = errors.New("insufficient privileges")

	// ErrLockTimeout matches every *LockTimeoutError.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrConsistencyViolation matches every *ConsistencyViolationError.
	ErrConsistencyViolation = errors.New("consistency violation")

	ErrLocalizedDelete     = errors.New("localized copies cannot be deleted, unlocalize instead")
	ErrLocalizedDisinherit = errors.New("disinheritance can only be changed on the master")
	ErrNameConflict        = errors.New("name already in use")
	ErrParentInWastebin    = errors.New("parent folder is in the wastebin")
	ErrInvalidChannel      = errors.New("invalid channel")
	ErrCopyInWastebin      = errors.New("channel copy is in the wastebin")
)

// NotVisibleError reports that rows exist but the rules suppress them.
type NotVisibleError struct {
	ChannelSetID ObjectID
	ChannelID    NodeID
	Reason       string // "disinherited", "wastebin" or "foreign-node"
}

const (
	ReasonDisinherited = "disinherited"
	ReasonWastebin     = "wastebin"
	ReasonForeignNode  = "foreign-node"
)

func (e *NotVisibleError) Error() string {
	return fmt.Sprintf("object %d not visible in channel %d: %s", e.ChannelSetID, e.ChannelID, e.Reason)
}

func (e *NotVisibleError) Is(target error) bool { return target == ErrNotVisible }

// InsufficientPrivilegesError names the first channel whose permission check failed.
type InsufficientPrivilegesError struct {
	Principal Principal
	Action    Action
	ChannelID NodeID
}

func (e *InsufficientPrivilegesError) Error() string {
	return fmt.Sprintf("%s lacks %s permission in channel %d", e.Principal, e.Action, e.ChannelID)
}

func (e *InsufficientPrivilegesError) Is(target error) bool {
	return target == ErrInsufficientPrivileges
}

// LockTimeoutError is returned when a keyed lock could not be acquired in time.
type LockTimeoutError struct {
	Key     LockKey
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock %q within %s", e.Key, e.Timeout)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// ConsistencyViolationError signals corrupt data. It is never recovered from.
type ConsistencyViolationError struct {
	ChannelSetID ObjectID
	ChannelID    NodeID
	Detail       string
}

func (e *ConsistencyViolationError) Error() string {
	return fmt.Sprintf("channel set %d, channel %d: %s", e.ChannelSetID, e.ChannelID, e.Detail)
}

func (e *ConsistencyViolationError) Is(target error) bool {
	return target == ErrConsistencyViolation
}
