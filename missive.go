package missive

import (
	"github.com/voklev/missive/dump"
	"github.com/voklev/missive/message"
)

// Registration.
func Register[T message.Message](opts ...message.RegisterOption[T]) *message.VTable {
	return message.Register[T](opts...)
}

func NewMessageRegistry() *message.Registry {
	return message.NewRegistry()
}

// Envelopes.
func New(msg message.Message) *message.AnyMessage {
	return message.New(msg)
}

func Downcast[T message.Message](env *message.AnyMessage) (T, error) {
	return message.Downcast[T](env)
}

func As[T message.Message](env *message.AnyMessage) (T, error) {
	return message.As[T](env)
}

func Is[T message.Message](env *message.AnyMessage) bool {
	return message.Is[T](env)
}

func Reply[R any](req message.Request[R], resp R) *message.AnyMessage {
	return message.Reply(req, resp)
}

// Dumping.
func NewRecorder(journal dump.Journal, opts ...dump.RecorderOption) *dump.Recorder {
	return dump.NewRecorder(journal, opts...)
}

func NewAuditorGroup(
	journal dump.GlobalReader,
	checkpointer dump.Checkpointer,
	auditors []dump.Auditor,
	opts ...dump.GroupOption,
) (*dump.Group, error) {
	return dump.NewGroup(journal, checkpointer, auditors, opts...)
}
