package message_test

import (
	"testing"

	"github.com/voklev/missive/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EraseAndDowncast_RoundTrip(t *testing.T) {
	env := message.New(Ping{ID: 7})

	require.Equal(t, "AnyMessage(net/Ping)", env.String())

	got, err := message.Downcast[Ping](env)
	require.NoError(t, err)
	assert.Equal(t, Ping{ID: 7}, got)

	// The payload left the envelope; a second take has nothing to return.
	_, err = message.Downcast[Ping](env)
	require.ErrorIs(t, err, message.ErrEmptyEnvelope)
	assert.Equal(t, "AnyMessage(empty)", env.String())
}

func Test_Erase_NoNesting(t *testing.T) {
	env := message.New(Ping{ID: 1})
	defer env.Release()

	assert.Same(t, env, message.New(env))
}

func Test_Erase_UnregisteredPanics(t *testing.T) {
	type stray struct{ Ping }

	require.Panics(t, func() {
		message.New(stray{})
	})
}

func Test_Downcast_MismatchKeepsPayload(t *testing.T) {
	env := message.New(Ping{ID: 5})
	defer env.Release()

	_, err := message.Downcast[*Blob](env)
	require.ErrorIs(t, err, message.ErrTypeMismatch)
	assert.ErrorContains(t, err, "net/Ping")

	// The failed attempt must not have consumed anything.
	got, err := message.As[Ping](env)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.ID)
}

func Test_Downcast_ToEnvelopeIsUniversal(t *testing.T) {
	env := message.New(Ping{ID: 2})
	defer env.Release()

	same, err := message.Downcast[*message.AnyMessage](env)
	require.NoError(t, err)
	require.Same(t, env, same)

	// Viewing an envelope as an envelope consumes nothing.
	got, err := message.As[Ping](env)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.ID)
}

func Test_As_BorrowsWithoutConsuming(t *testing.T) {
	env := message.New(Ping{ID: 9})

	for range 3 {
		got, err := message.As[Ping](env)
		require.NoError(t, err)
		require.Equal(t, uint32(9), got.ID)
	}

	assert.True(t, message.Is[Ping](env))
	assert.False(t, message.Is[*Blob](env))

	// Still full, so the consuming take succeeds afterwards.
	got, err := message.Downcast[Ping](env)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), got.ID)
}

func Test_Release_RunsHookExactlyOnce(t *testing.T) {
	lease := &Lease{Key: "conn-1"}
	env := message.New(lease)

	env.Release()
	require.Equal(t, 1, lease.released)

	env.Release()
	require.Equal(t, 1, lease.released, "release hook must not run twice")

	_, err := message.As[*Lease](env)
	assert.ErrorIs(t, err, message.ErrEmptyEnvelope)
}

func Test_Release_RunsRegisteredHook(t *testing.T) {
	task := &Task{Name: "reindex"}
	env := message.New(task)

	env.Release()
	assert.True(t, task.canceled)
}

func Test_Downcast_TransfersReleaseDuty(t *testing.T) {
	lease := &Lease{Key: "conn-2"}
	env := message.New(lease)

	got, err := message.Downcast[*Lease](env)
	require.NoError(t, err)
	require.Same(t, lease, got)

	// Ownership moved to the caller, so destroying the envelope must not
	// touch the extracted value.
	env.Release()
	assert.Equal(t, 0, lease.released)
}

func Test_Clone_UsesClonerIsolation(t *testing.T) {
	orig := &Blob{Data: []byte("abc")}
	env := message.New(orig)
	defer env.Release()

	dup := env.Clone()
	defer dup.Release()

	// Mutate through the original; the clone must hold its own buffer.
	borrowed, err := message.As[*Blob](env)
	require.NoError(t, err)
	borrowed.Data[0] = 'z'

	cloned, err := message.As[*Blob](dup)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), cloned.Data)
	assert.NotSame(t, orig, cloned)
}

func Test_Clone_ValueType(t *testing.T) {
	env := message.New(Ping{ID: 4})
	defer env.Release()

	dup := env.Clone()

	got, err := message.Downcast[Ping](dup)
	require.NoError(t, err)
	assert.Equal(t, Ping{ID: 4}, got)

	// The original envelope still owns its payload.
	assert.True(t, message.Is[Ping](env))
}

func Test_EnvelopeImplementsMessage(t *testing.T) {
	var msg message.Message = message.New(Ping{ID: 1})

	assert.Equal(t, "Ping", msg.MessageName())
	assert.Equal(t, "net", msg.MessageProtocol())
}

func Test_Downcast_NilEnvelope(t *testing.T) {
	_, err := message.Downcast[Ping](nil)
	assert.ErrorIs(t, err, message.ErrEmptyEnvelope)

	_, err = message.As[Ping](nil)
	assert.ErrorIs(t, err, message.ErrEmptyEnvelope)
}
