package dump_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voklev/missive/dump"
)

func Test_WriterJournal_EncodesLines(t *testing.T) {
	var buf bytes.Buffer
	journal := dump.NewWriterJournal(&buf)
	ctx := t.Context()
	now := time.Now().UTC()

	head, err := journal.Append(ctx, "stream-a", dump.Raws{
		rawIn("Ping", []byte(`{"id":1}`), now),
		dump.NewRaw(dump.DirOut, "net", "Pong", now, []byte(`{"id":1}`)),
	})
	require.NoError(t, err)
	require.Equal(t, dump.Seq(2), head)

	head, err = journal.Append(ctx, "stream-b", dump.Raws{
		rawIn("Ping", []byte(`{"id":2}`), now),
	})
	require.NoError(t, err)
	require.Equal(t, dump.Seq(1), head)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	type line struct {
		Stream    string          `json:"stream"`
		Seq       uint64          `json:"seq"`
		GlobalSeq uint64          `json:"global_seq"`
		Direction string          `json:"direction"`
		Protocol  string          `json:"protocol"`
		Name      string          `json:"name"`
		Payload   json.RawMessage `json:"payload"`
	}

	var first line
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "stream-a", first.Stream)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(1), first.GlobalSeq)
	assert.Equal(t, "in", first.Direction)
	assert.Equal(t, "net", first.Protocol)
	assert.Equal(t, "Ping", first.Name)
	assert.JSONEq(t, `{"id":1}`, string(first.Payload))

	var second line
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(2), second.GlobalSeq)
	assert.Equal(t, "out", second.Direction)

	// A second stream numbers from 1 but keeps the shared global order.
	var third line
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	assert.Equal(t, "stream-b", third.Stream)
	assert.Equal(t, uint64(1), third.Seq)
	assert.Equal(t, uint64(3), third.GlobalSeq)
}

func Test_WriterJournal_ReadUnsupported(t *testing.T) {
	journal := dump.NewWriterJournal(&bytes.Buffer{})

	_, err := journal.Read(t.Context(), "stream-a", dump.SelectFromBeginning).Collect()
	require.ErrorIs(t, err, dump.ErrReadUnsupported)
}

func Test_WriterJournal_SinkFailure(t *testing.T) {
	journal := dump.NewWriterJournal(failingWriter{})

	_, err := journal.Append(t.Context(), "stream-a", dump.Raws{
		rawIn("Ping", nil, time.Now()),
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "write entry line")
}
