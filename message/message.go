// Package message implements the type-erased envelope and per-type capability
// tables that let an actor-style runtime route arbitrarily typed payloads
// through homogeneous channels.
//
// A concrete message type implements [Message] and is registered exactly once
// with [Register], which builds its immutable [VTable] (display name,
// protocol, telemetry labels, layout, behavior slots). [New] erases a value
// into an [AnyMessage]; [Downcast] and [As] recover it with a checked type
// comparison. Replies travel through the same machinery via [Request],
// [Wrapper] and [Reply].
package message

import "github.com/zoobzio/capitan"

// Message is implemented by every concrete message type exchanged between
// actors.
//
// MessageName and MessageProtocol must be constant for a given type: they are
// read once during registration and cached in the type's vtable, which is the
// source of truth everywhere else. Pointer types are preferred for payloads
// larger than a word, they cross the erasure boundary without an extra
// allocation.
type Message interface {
	// MessageName returns the display name of the message type, e.g. "Ping".
	MessageName() string

	// MessageProtocol returns the namespace grouping a family of message
	// types, e.g. "net".
	MessageProtocol() string
}

// Cloner allows message types to provide deep copy logic for diagnostic
// snapshots.
//
// Types that don't implement it are cloned with a shallow copy (for pointer
// messages, a copy of the pointee). Implement Cloner when the message holds
// slices, maps or nested pointers that must stay isolated from the original:
//
//	func (p *Payload) Clone() *Payload {
//		buf := make([]byte, len(p.Buf))
//		copy(buf, p.Buf)
//		return &Payload{Buf: buf}
//	}
type Cloner[T Message] interface {
	Clone() T
}

// Releaser is implemented by message types that own resources which must be
// released exactly once, such as pooled buffers.
//
// The release hook is recorded in the vtable at registration and run by
// [AnyMessage.Release] when an envelope is destroyed without the payload
// having been extracted.
type Releaser interface {
	Release()
}

// NameOf returns the registered display name of msg, sourced from its vtable.
func NameOf(msg Message) string {
	return mustTableOf(msg).Name()
}

// ProtocolOf returns the registered protocol of msg, sourced from its vtable.
func ProtocolOf(msg Message) string {
	return mustTableOf(msg).Protocol()
}

// LabelsOf returns the pre-built telemetry attribution labels of msg's type.
// The first two labels are always the message name and protocol.
func LabelsOf(msg Message) []capitan.Field {
	return mustTableOf(msg).Labels()
}

// DumpingAllowedOf reports whether diagnostic dumping is permitted for msg's
// type. Callers capturing snapshots consult it first; the erasure mechanism
// itself performs no permission check.
func DumpingAllowedOf(msg Message) bool {
	return mustTableOf(msg).DumpingAllowed()
}

// TypeOf returns the stable type identifier assigned to msg's type at
// registration.
func TypeOf(msg Message) TypeID {
	return mustTableOf(msg).TypeID()
}

// LayoutOf returns the representation descriptor recorded in msg's vtable.
func LayoutOf(msg Message) Layout {
	return mustTableOf(msg).Layout()
}

// VTableOf returns the capability table registered for msg's concrete type.
func VTableOf(msg Message) (*VTable, error) {
	return tableOf(msg)
}
