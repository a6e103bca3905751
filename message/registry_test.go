package message_test

import (
	"testing"

	"github.com/voklev/missive/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type firstOfName struct{}

func (firstOfName) MessageName() string     { return "Dup" }
func (firstOfName) MessageProtocol() string { return "collide" }

type secondOfName struct{}

func (secondOfName) MessageName() string     { return "Dup" }
func (secondOfName) MessageProtocol() string { return "collide" }

func TestRegisterIn_DuplicateTypePanics(t *testing.T) {
	reg := message.NewRegistry()

	message.RegisterIn[firstOfName](reg)

	require.Panics(t, func() {
		message.RegisterIn[firstOfName](reg)
	})
}

func TestRegisterIn_NameCollisionPanics(t *testing.T) {
	reg := message.NewRegistry()

	message.RegisterIn[firstOfName](reg)

	// A different type claiming the same protocol qualified name must be
	// rejected, otherwise decode by name would be ambiguous.
	require.Panics(t, func() {
		message.RegisterIn[secondOfName](reg)
	})
}

func TestRegisterIn_EnvelopeRejected(t *testing.T) {
	reg := message.NewRegistry()

	require.Panics(t, func() {
		message.RegisterIn[*message.AnyMessage](reg)
	})
}

func TestLookup(t *testing.T) {
	vt, ok := message.DefaultRegistry.Lookup("net", "Ping")
	require.True(t, ok)
	assert.Same(t, pingTable, vt)

	_, ok = message.DefaultRegistry.Lookup("net", "NoSuchMessage")
	assert.False(t, ok)
}

func TestAll_OrderedByProtocolThenName(t *testing.T) {
	reg := message.NewRegistry()
	message.RegisterIn[Ping](reg)
	message.RegisterIn[*Blob](reg)
	message.RegisterIn[Token](reg)

	var names []string
	for vt := range reg.All() {
		names = append(names, vt.Protocol()+"/"+vt.Name())
	}

	assert.Equal(t, []string{"auth/Token", "net/Ping", "stor/Blob"}, names)
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	var g errgroup.Group

	for range 8 {
		g.Go(func() error {
			for range 200 {
				if _, ok := message.DefaultRegistry.Lookup("net", "Ping"); !ok {
					t.Error("lookup lost a registered table")
				}

				env := message.New(Ping{ID: 1})
				if _, err := message.Downcast[Ping](env); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
}
