package message

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
)

// ErrNotRegistered is returned when a message type or name has no capability
// table. Erasing, downcasting or decoding a type requires it to have been
// registered first.
var ErrNotRegistered = errors.New("message type not registered")

// DefaultRegistry is the process-wide registry consulted by Register, New and
// the accessor functions. Isolated registries are only needed by tests and by
// codecs that restrict the decodable set.
var DefaultRegistry = NewRegistry()

// Registry maps concrete message types and their protocol-qualified names to
// capability tables. Registrations happen during program start-up; lookups
// are concurrent and lock-cheap afterwards.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*VTable
	byName map[nameKey]*VTable
}

type nameKey struct {
	protocol string
	name     string
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*VTable),
		byName: make(map[nameKey]*VTable),
	}
}

// Register builds the capability table for T and publishes it in
// [DefaultRegistry]. It returns the table so callers can keep a handle for
// telemetry labels.
//
// Register panics if T or its protocol-qualified name is already taken;
// message types are registered exactly once, from init functions or early
// main, before any envelope is built.
func Register[T Message](opts ...RegisterOption[T]) *VTable {
	return RegisterIn[T](DefaultRegistry, opts...)
}

// RegisterIn is Register against an explicit registry.
func RegisterIn[T Message](r *Registry, opts ...RegisterOption[T]) *VTable {
	rt := reflect.TypeFor[T]()
	if rt == anyMessageType {
		panic("missive: the erased envelope cannot be registered as a message type")
	}

	vt := newVTable[T](opts...)
	r.publish(rt, vt)
	emitRegistered(context.Background(), vt)
	return vt
}

func (r *Registry) publish(rt reflect.Type, vt *VTable) {
	key := nameKey{protocol: vt.Protocol(), name: vt.Name()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[rt]; ok {
		panic(fmt.Sprintf("missive: message type %s registered twice", rt))
	}
	if prev, ok := r.byName[key]; ok {
		panic(fmt.Sprintf("missive: message name %s/%s already registered by %s",
			key.protocol, key.name, prev.TypeID()))
	}

	r.byType[rt] = vt
	r.byName[key] = vt
}

// Lookup resolves a capability table by protocol and message name. Codecs use
// it to rehydrate wire frames into typed values.
func (r *Registry) Lookup(protocol, name string) (*VTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vt, ok := r.byName[nameKey{protocol: protocol, name: name}]
	return vt, ok
}

// All yields every registered capability table ordered by protocol then name.
func (r *Registry) All() iter.Seq[*VTable] {
	r.mu.RLock()
	tables := make([]*VTable, 0, len(r.byType))
	for _, vt := range r.byType {
		tables = append(tables, vt)
	}
	r.mu.RUnlock()

	slices.SortFunc(tables, func(a, b *VTable) int {
		if c := cmp.Compare(a.Protocol(), b.Protocol()); c != 0 {
			return c
		}
		return cmp.Compare(a.Name(), b.Name())
	})

	return func(yield func(*VTable) bool) {
		for _, vt := range tables {
			if !yield(vt) {
				return
			}
		}
	}
}

func (r *Registry) tableFor(rt reflect.Type) (*VTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vt, ok := r.byType[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, rt)
	}
	return vt, nil
}

// tableOf resolves the capability table backing msg. An erased envelope
// answers with the table of the value it carries, so metadata accessors see
// through the erasure.
func tableOf(msg Message) (*VTable, error) {
	if env, ok := msg.(*AnyMessage); ok {
		return env.table()
	}
	return DefaultRegistry.tableFor(reflect.TypeOf(msg))
}

func mustTableOf(msg Message) *VTable {
	vt, err := tableOf(msg)
	if err != nil {
		panic(fmt.Sprintf("missive: %s", err))
	}
	return vt
}

// targetTable resolves the table for a downcast target type. The erased
// envelope type itself is a valid target; it accepts every source type.
func targetTable[T Message]() (*VTable, error) {
	rt := reflect.TypeFor[T]()
	if rt == anyMessageType {
		return anyVTable, nil
	}
	return DefaultRegistry.tableFor(rt)
}
