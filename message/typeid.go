package message

import "reflect"

// TypeID is the process-stable identity of a concrete message type.
//
// Exactly one TypeID exists per registered type. It is captured once during
// registration, cached in the type's vtable and never recomputed afterwards.
// TypeIDs are compared only for equality; the zero TypeID matches nothing.
type TypeID struct {
	rt reflect.Type
}

// IsZero reports whether id identifies no type at all.
func (id TypeID) IsZero() bool {
	return id.rt == nil
}

func (id TypeID) String() string {
	if id.rt == nil {
		return "TypeID(none)"
	}
	return "TypeID(" + id.rt.String() + ")"
}

func typeIDFor(rt reflect.Type) TypeID {
	return TypeID{rt: rt}
}

// Layout describes the in-memory representation of a message type's payload.
// It is computed once at registration and cached in the vtable.
type Layout struct {
	// Size is the payload footprint in bytes.
	Size int
	// Align is the payload's alignment requirement in bytes.
	Align int
	// Inline reports whether values of the type are stored directly in the
	// envelope's erasure word. Pointer-shaped payloads (pointers, maps,
	// channels, funcs) are inline and cross the boundary without allocating;
	// anything else is boxed once on upcast.
	Inline bool
}

func layoutFor(rt reflect.Type) Layout {
	inline := false
	switch rt.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func:
		inline = true
	default:
	}

	return Layout{
		Size:   int(rt.Size()),
		Align:  rt.Align(),
		Inline: inline,
	}
}
