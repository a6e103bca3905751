package message

import (
	"reflect"
	"slices"

	"github.com/zoobzio/capitan"
)

// VTable is the immutable capability table of one registered message type.
// It is built once by Register and shared by every envelope that carries a
// value of that type; all metadata reads go through it without touching
// reflection again.
type VTable struct {
	typeID   TypeID
	name     string
	protocol string
	layout   Layout

	labels         []capitan.Field
	dumpingAllowed bool

	// universal marks the one table whose type is a supertype of every
	// message type. Only the erased envelope's own table sets it.
	universal bool

	newValue func() Message
	clone    func(Message) Message
	drop     func(Message)
	decode   func(unmarshal func(any) error) (Message, error)
}

// TypeID returns the identity of the registered type.
func (vt *VTable) TypeID() TypeID { return vt.typeID }

// Name returns the message name, stable for the lifetime of the process.
func (vt *VTable) Name() string { return vt.name }

// Protocol returns the protocol the message belongs to.
func (vt *VTable) Protocol() string { return vt.protocol }

// Layout reports how values of the type are stored inside an envelope.
func (vt *VTable) Layout() Layout { return vt.layout }

// DumpingAllowed reports whether values of the type may be captured by
// diagnostic recording.
func (vt *VTable) DumpingAllowed() bool { return vt.dumpingAllowed }

// Labels returns the telemetry labels attributed to the type. The first two
// labels are always the message name and protocol.
func (vt *VTable) Labels() []capitan.Field { return slices.Clone(vt.labels) }

// IsSupertypeOf reports whether a value identified by other can be treated as
// one of this table's type. For ordinary message types this is plain identity.
func (vt *VTable) IsSupertypeOf(other TypeID) bool {
	if vt.universal {
		return true
	}
	return vt.typeID == other
}

// Decode builds a fresh value of the table's type by running unmarshal
// against a pointer to it. Codecs use this to rehydrate a message from its
// wire form after resolving the table by protocol and name.
func (vt *VTable) Decode(unmarshal func(any) error) (Message, error) {
	return vt.decode(unmarshal)
}

// DecodeErased decodes like Decode and returns the value already erased with
// this table, skipping a second registry lookup.
func (vt *VTable) DecodeErased(unmarshal func(any) error) (*AnyMessage, error) {
	msg, err := vt.decode(unmarshal)
	if err != nil {
		return nil, err
	}

	env := &AnyMessage{}
	env.repr.write(vt, msg)
	return env, nil
}

// RegisterOption configures the capability table built for T.
type RegisterOption[T Message] func(*registerConfig[T])

type registerConfig[T Message] struct {
	labels         []capitan.Field
	dumpingAllowed bool
	release        func(T)
	clone          func(T) T
}

// WithDumpingDisabled excludes values of the type from diagnostic recording.
// Use it for messages carrying secrets or payloads too large to dump.
func WithDumpingDisabled[T Message]() RegisterOption[T] {
	return func(cfg *registerConfig[T]) {
		cfg.dumpingAllowed = false
	}
}

// WithLabels attaches extra telemetry labels to the type, appended after the
// implicit name and protocol labels.
func WithLabels[T Message](labels ...capitan.Field) RegisterOption[T] {
	return func(cfg *registerConfig[T]) {
		cfg.labels = append(cfg.labels, labels...)
	}
}

// WithRelease sets the cleanup hook run when an envelope holding a T is
// destroyed without being taken out. It overrides the Releaser interface.
func WithRelease[T Message](release func(T)) RegisterOption[T] {
	return func(cfg *registerConfig[T]) {
		cfg.release = release
	}
}

// WithClone sets the copy hook used when an envelope is duplicated. It
// overrides the Cloner interface and the default shallow copy.
func WithClone[T Message](clone func(T) T) RegisterOption[T] {
	return func(cfg *registerConfig[T]) {
		cfg.clone = clone
	}
}

// newVTable builds the capability table for T. It is the only place in the
// package that inspects T with reflection; everything it learns is frozen
// into closures and plain fields.
func newVTable[T Message](opts ...RegisterOption[T]) *VTable {
	cfg := registerConfig[T]{dumpingAllowed: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	rt := reflect.TypeFor[T]()

	newValue := func() Message {
		var zero T
		return zero
	}
	if rt.Kind() == reflect.Pointer {
		elem := rt.Elem()
		newValue = func() Message {
			return reflect.New(elem).Interface().(Message)
		}
	}

	// Name and protocol come from a probe instance; they are contractually
	// constant per type, so reading them once at registration is enough.
	probe := newValue()

	vt := &VTable{
		typeID:         typeIDFor(rt),
		name:           probe.MessageName(),
		protocol:       probe.MessageProtocol(),
		layout:         layoutFor(rt),
		dumpingAllowed: cfg.dumpingAllowed,
		newValue:       newValue,
		clone:          cloneFunc[T](cfg, rt, probe),
		drop:           dropFunc[T](cfg, probe),
		decode:         decodeFunc[T](),
	}
	vt.labels = append([]capitan.Field{
		KeyMessage.Field(vt.name),
		KeyProtocol.Field(vt.protocol),
	}, cfg.labels...)
	return vt
}

// cloneFunc picks the copy strategy for T, most specific first: an explicit
// hook, the Cloner interface, a fresh pointee copy for pointer types, or the
// value itself for value types (re-extraction already copies those).
func cloneFunc[T Message](cfg registerConfig[T], rt reflect.Type, probe Message) func(Message) Message {
	if cfg.clone != nil {
		return func(m Message) Message {
			return cfg.clone(m.(T))
		}
	}
	if _, ok := probe.(Cloner[T]); ok {
		return func(m Message) Message {
			return m.(Cloner[T]).Clone()
		}
	}
	if rt.Kind() == reflect.Pointer {
		elem := rt.Elem()
		return func(m Message) Message {
			dst := reflect.New(elem)
			dst.Elem().Set(reflect.ValueOf(m).Elem())
			return dst.Interface().(Message)
		}
	}
	return func(m Message) Message {
		return m
	}
}

// dropFunc picks the cleanup strategy for T. A nil result means values of T
// need no cleanup beyond being forgotten.
func dropFunc[T Message](cfg registerConfig[T], probe Message) func(Message) {
	if cfg.release != nil {
		return func(m Message) {
			cfg.release(m.(T))
		}
	}
	if _, ok := probe.(Releaser); ok {
		return func(m Message) {
			m.(Releaser).Release()
		}
	}
	return nil
}

// decodeFunc always hands unmarshal a single pointer to the new value, so
// pointer receiver methods of the value stay visible to codec overrides.
func decodeFunc[T Message]() func(unmarshal func(any) error) (Message, error) {
	rt := reflect.TypeFor[T]()
	if rt.Kind() == reflect.Pointer {
		elem := rt.Elem()
		return func(unmarshal func(any) error) (Message, error) {
			ptr := reflect.New(elem)
			if err := unmarshal(ptr.Interface()); err != nil {
				return nil, err
			}
			return ptr.Interface().(Message), nil
		}
	}

	return func(unmarshal func(any) error) (Message, error) {
		var v T
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
