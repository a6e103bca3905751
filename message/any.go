package message

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/zoobzio/capitan"
)

var (
	// ErrEmptyEnvelope is returned when a value is requested from an envelope
	// whose payload has already been taken out or released.
	ErrEmptyEnvelope = errors.New("envelope payload already consumed")

	// ErrTypeMismatch is returned by a checked downcast when the envelope
	// holds a different type than requested. The envelope stays intact.
	ErrTypeMismatch = errors.New("envelope type mismatch")
)

var anyMessageType = reflect.TypeFor[*AnyMessage]()

// anyVTable stands in for the envelope type in downcast target resolution.
// Every erased value can be viewed as an envelope, so the table is universal.
// Only its identity fields are ever consulted; it carries no behavior slots
// and lives in no registry.
var anyVTable = &VTable{
	typeID:         typeIDFor(anyMessageType),
	name:           "AnyMessage",
	protocol:       "missive",
	layout:         layoutFor(anyMessageType),
	dumpingAllowed: true,
	universal:      true,
}

// AnyMessage is the type-erased envelope. It carries one registered message
// value together with that value's capability table, letting mailboxes and
// diagnostic pipelines handle arbitrary message types uniformly.
//
// An envelope owns its payload. The payload leaves the envelope at most once,
// through a successful [Downcast] or through [AnyMessage.Release]; afterwards
// the envelope is empty and checked accessors report [ErrEmptyEnvelope].
// Envelopes are not safe for concurrent mutation; hand an envelope to one
// goroutine at a time, the way any owned value moves between actors.
type AnyMessage struct {
	repr repr
}

var _ Message = (*AnyMessage)(nil)
var _ fmt.Stringer = (*AnyMessage)(nil)

// New erases msg into an envelope, capturing the capability table registered
// for msg's concrete type. Erasing an envelope returns it unchanged rather
// than nesting.
//
// New panics if msg's type was never registered: erasure of unregistered
// types is a start-up ordering bug, not a runtime condition.
func New(msg Message) *AnyMessage {
	if env, ok := msg.(*AnyMessage); ok {
		return env
	}

	vt, err := DefaultRegistry.tableFor(reflect.TypeOf(msg))
	if err != nil {
		panic(fmt.Sprintf("missive: cannot erase %T: %s", msg, err))
	}

	env := &AnyMessage{}
	env.repr.write(vt, msg)
	return env
}

// MessageName reports the name of the carried value, or "" for an empty
// envelope. Together with MessageProtocol it makes the envelope itself a
// [Message], so erased values pass through APIs written against the
// interface.
func (env *AnyMessage) MessageName() string {
	vt, err := env.table()
	if err != nil {
		return ""
	}
	return vt.Name()
}

// MessageProtocol reports the protocol of the carried value, or "" for an
// empty envelope.
func (env *AnyMessage) MessageProtocol() string {
	vt, err := env.table()
	if err != nil {
		return ""
	}
	return vt.Protocol()
}

// Labels returns the telemetry attribution labels of the carried value's
// type, or nil for an empty envelope.
func (env *AnyMessage) Labels() []capitan.Field {
	vt, err := env.table()
	if err != nil {
		return nil
	}
	return vt.Labels()
}

// DumpingAllowed reports whether the carried value's type may be captured in
// diagnostic dumps. Empty envelopes report false.
func (env *AnyMessage) DumpingAllowed() bool {
	vt, err := env.table()
	if err != nil {
		return false
	}
	return vt.DumpingAllowed()
}

func (env *AnyMessage) String() string {
	vt, err := env.table()
	if err != nil {
		return "AnyMessage(empty)"
	}
	return fmt.Sprintf("AnyMessage(%s/%s)", vt.Protocol(), vt.Name())
}

// Clone duplicates the envelope together with its payload, using the clone
// hook recorded in the payload's capability table. The original keeps its
// payload.
func (env *AnyMessage) Clone() *AnyMessage {
	if env == nil || env.repr.empty() {
		assertContract(false, "clone of a released envelope")
		return &AnyMessage{}
	}

	vt, value := env.repr.peek()
	dup := &AnyMessage{}
	dup.repr.write(vt, vt.clone(value))
	return dup
}

// Release destroys the envelope's payload. If the payload's type registered a
// release hook, the hook runs now, exactly once; a second Release and a
// Release after a successful consuming downcast are no-ops because the
// envelope no longer owns anything.
func (env *AnyMessage) Release() {
	if env == nil || env.repr.empty() {
		return
	}

	vt, value := env.repr.take()
	if vt.drop != nil {
		vt.drop(value)
	}
}

func (env *AnyMessage) table() (*VTable, error) {
	if env == nil || env.repr.empty() {
		return nil, ErrEmptyEnvelope
	}
	vt, _ := env.repr.peek()
	return vt, nil
}

// Unwrap returns the carried value as the plain [Message] interface without
// consuming the envelope. Codecs and diagnostic dumpers use it when they need
// the value itself rather than a typed view of it.
func (env *AnyMessage) Unwrap() (Message, error) {
	if env == nil || env.repr.empty() {
		return nil, ErrEmptyEnvelope
	}
	_, value := env.repr.peek()
	return value, nil
}

// Downcast takes the payload out of the envelope as a T. On success the
// envelope is left empty and ownership of the value, including any release
// duty, moves to the caller. On mismatch the envelope keeps its payload and
// the error wraps [ErrTypeMismatch].
//
// Downcast to *AnyMessage always succeeds and returns the envelope itself:
// the envelope type is a supertype of every registered type.
func Downcast[T Message](env *AnyMessage) (T, error) {
	var zero T
	if env == nil {
		return zero, ErrEmptyEnvelope
	}

	tgt, err := targetTable[T]()
	if err != nil {
		return zero, err
	}
	if tgt.universal {
		return any(env).(T), nil
	}

	if env.repr.empty() {
		assertContract(false, "downcast of a released envelope")
		return zero, ErrEmptyEnvelope
	}

	vt, _ := env.repr.peek()
	if !tgt.IsSupertypeOf(vt.TypeID()) {
		return zero, fmt.Errorf("%w: envelope holds %s/%s, want %s",
			ErrTypeMismatch, vt.Protocol(), vt.Name(), tgt.TypeID())
	}

	_, value := env.repr.take()
	return value.(T), nil
}

// As returns the payload as a T without consuming the envelope. Value-typed
// payloads come back as a copy; pointer-typed payloads are shared with the
// envelope, so treat them as borrowed.
func As[T Message](env *AnyMessage) (T, error) {
	var zero T
	if env == nil {
		return zero, ErrEmptyEnvelope
	}

	tgt, err := targetTable[T]()
	if err != nil {
		return zero, err
	}
	if tgt.universal {
		return any(env).(T), nil
	}

	if env.repr.empty() {
		assertContract(false, "borrow from a released envelope")
		return zero, ErrEmptyEnvelope
	}

	vt, value := env.repr.peek()
	if !tgt.IsSupertypeOf(vt.TypeID()) {
		return zero, fmt.Errorf("%w: envelope holds %s/%s, want %s",
			ErrTypeMismatch, vt.Protocol(), vt.Name(), tgt.TypeID())
	}
	return value.(T), nil
}

// Is reports whether the envelope currently holds a value of type T.
func Is[T Message](env *AnyMessage) bool {
	_, err := As[T](env)
	return err == nil
}
