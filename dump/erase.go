package dump

import (
	"fmt"

	"github.com/sanity-io/litter"

	"github.com/voklev/missive/message"
)

// Erased is a diagnostic snapshot of one envelope: the message coordinates
// plus an isolated copy of the value, safe to render after the original moved
// on.
type Erased struct {
	protocol string
	name     string
	typeID   message.TypeID
	value    message.Message
}

// Erase snapshots the envelope's payload for diagnostics without consuming
// the envelope. The value is cloned through its capability table, so later
// mutation of the original cannot leak into the snapshot.
//
// Erase is mechanism only and never consults the type's dumping permission.
// Callers that honor the permission, like [Recorder.Record], check
// [message.DumpingAllowedOf] before erasing.
func Erase(env *message.AnyMessage) (*Erased, error) {
	vt, err := message.VTableOf(env)
	if err != nil {
		return nil, fmt.Errorf("erase for dumping: %w", err)
	}

	dup := env.Clone()
	value, err := dup.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("erase for dumping: %w", err)
	}

	return &Erased{
		protocol: vt.Protocol(),
		name:     vt.Name(),
		typeID:   vt.TypeID(),
		value:    value,
	}, nil
}

func (e *Erased) Protocol() string { return e.protocol }

func (e *Erased) Name() string { return e.name }

func (e *Erased) TypeID() message.TypeID { return e.typeID }

// Value returns the snapshot copy of the message.
func (e *Erased) Value() message.Message { return e.value }

// Render formats the snapshot for humans, field names included.
func (e *Erased) Render() string {
	return fmt.Sprintf("%s/%s %s", e.protocol, e.name, litter.Sdump(e.value))
}
