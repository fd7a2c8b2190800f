// Package events is the per-engine event bus.
//
// Each engine owns one Bus. The engine stages events while its store
// transaction commits and flushes them once the commit returns and its merge
// lock is released, so subscribers see every committed mutation exactly once,
// in commit order, and never run inside a critical section.
package events

import (
	"fmt"

	"github.com/roach88/hubd/internal/message"
)

// Type identifies the kind of committed mutation.
type Type int

const (
	TypeMergeMessage Type = iota + 1
	TypeMergeIdRegistryEvent
	TypeMergeNameRegistryEvent
	TypePruneMessage
	TypeRevokeMessage
)

// AllTypes lists every event type.
var AllTypes = []Type{
	TypeMergeMessage,
	TypeMergeIdRegistryEvent,
	TypeMergeNameRegistryEvent,
	TypePruneMessage,
	TypeRevokeMessage,
}

func (t Type) String() string {
	switch t {
	case TypeMergeMessage:
		return "mergeMessage"
	case TypeMergeIdRegistryEvent:
		return "mergeIdRegistryEvent"
	case TypeMergeNameRegistryEvent:
		return "mergeNameRegistryEvent"
	case TypePruneMessage:
		return "pruneMessage"
	case TypeRevokeMessage:
		return "revokeMessage"
	default:
		return fmt.Sprintf("eventType(%d)", int(t))
	}
}

// ParseType parses the name returned by Type.String.
func ParseType(s string) (Type, error) {
	for _, t := range AllTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Event is one committed mutation.
//
// Message is set for message events. Deleted lists the records a
// mergeMessage superseded in the same transaction. IdRegistryEvent and
// NameRegistryEvent are set for the registry event types.
type Event struct {
	Seq               uint64
	Type              Type
	Message           *message.Message
	Deleted           []*message.Message
	IdRegistryEvent   *message.IdRegistryEvent
	NameRegistryEvent *message.NameRegistryEvent
}
