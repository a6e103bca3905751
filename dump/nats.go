package dump

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	_ Journal = (*NATS)(nil)
	_ Trimmer = (*NATS)(nil)
)

const (
	// Custom headers carrying the capture metadata alongside the payload.
	headerDirection  = "Missive-Direction"
	headerProtocol   = "Missive-Protocol"
	headerName       = "Missive-Name"
	headerRecordedAt = "Missive-Recorded-At"
)

// NATS provides a Journal implementation using NATS JetStream as the backing
// store.
//
// It uses a "one stream per dump stream" model:
//
//   - Each StreamID has its own dedicated JetStream stream.
//   - Each stream has exactly one subject.
//   - An entry's seq is the JetStream sequence assigned at publish time.
//
// JetStream has no ordering across streams, so entries read back carry no
// global position and the journal does not implement GlobalReader.
type NATS struct {
	nc *nats.Conn
	js jetstream.JetStream

	// Prefixes used to generate stream and subject names from a StreamID.
	// For an ID "net/ping-1" and defaults:
	//   stream  -> "missive_dump_net_ping-1"
	//   subject -> "missive.dump.net_ping-1"
	streamPrefix  string
	subjectPrefix string

	// Configuration for dynamically created per-stream JetStream streams.
	storageType jetstream.StorageType
	retention   jetstream.RetentionPolicy

	// Timeout for reads when pulling messages.
	readTimeout time.Duration
}

// NATSOption defines a function that configures a NATS journal instance.
type NATSOption func(*NATS)

// WithNATSStreamName sets the *prefix* used when generating per-stream
// JetStream stream names. The actual name for a given dump stream will be
// "<name>_<sanitized-id>". If not provided, it defaults to "missive_dump".
func WithNATSStreamName(name string) NATSOption {
	return func(n *NATS) {
		n.streamPrefix = name
	}
}

// WithNATSSubjectPrefix sets the prefix used for all entry subjects.
// For a dump stream with ID "net/ping-1", the subject will be
// "<prefix>.net_ping-1". If not provided, it defaults to "missive.dump".
func WithNATSSubjectPrefix(prefix string) NATSOption {
	return func(n *NATS) {
		n.subjectPrefix = prefix
	}
}

// WithNATSStorage sets the storage backend (e.g., File or Memory) for the
// JetStream streams. Defaults to jetstream.FileStorage for durability.
func WithNATSStorage(storage jetstream.StorageType) NATSOption {
	return func(n *NATS) {
		n.storageType = storage
	}
}

// WithNATSRetentionPolicy sets the retention policy for the JetStream
// streams (e.g., Limits, Interest). Defaults to jetstream.LimitsPolicy.
func WithNATSRetentionPolicy(policy jetstream.RetentionPolicy) NATSOption {
	return func(n *NATS) {
		n.retention = policy
	}
}

// WithReadTimeOut sets the read wait duration when pulling entries from
// streams. Defaults to 500 milliseconds.
func WithReadTimeOut(t time.Duration) NATSOption {
	return func(n *NATS) {
		n.readTimeout = t
	}
}

// NewNATSJetStream creates a new NATS journal instance. It requires a
// connected *nats.Conn and accepts functional options for configuration.
//
// JetStream streams are not created up front; they are created lazily when
// entries are first appended for a given dump stream.
func NewNATSJetStream(nc *nats.Conn, opts ...NATSOption) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	njs := &NATS{
		nc:            nc,
		js:            js,
		streamPrefix:  "missive_dump",
		subjectPrefix: "missive.dump",
		storageType:   jetstream.FileStorage,
		retention:     jetstream.LimitsPolicy,
		readTimeout:   500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(njs)
	}

	return njs, nil
}

// Append publishes each raw capture to the stream's subject and returns the
// JetStream sequence of the last one as the new head.
func (c *NATS) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	if err := ctx.Err(); err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	if len(raws) == 0 {
		return Zero, fmt.Errorf("append entries: %w", ErrNoEntries)
	}

	streamName := c.streamIDToStreamName(stream)
	subject := c.streamIDToSubject(stream)

	if err := c.ensureStream(ctx, streamName, subject); err != nil {
		return Zero, fmt.Errorf("append entries: ensure stream: %w", err)
	}

	var head Seq
	for i, raw := range raws {
		msg := &nats.Msg{
			Subject: subject,
			Data:    raw.Payload(),
			Header: nats.Header{
				headerDirection:  []string{string(raw.Direction())},
				headerProtocol:   []string{raw.Protocol()},
				headerName:       []string{raw.Name()},
				headerRecordedAt: []string{raw.RecordedAt().Format(time.RFC3339Nano)},
			},
		}

		ack, err := c.js.PublishMsg(ctx, msg)
		if err != nil {
			return Zero, fmt.Errorf("append entries: publish message %d: %w", i+1, err)
		}

		head = Seq(ack.Sequence)
	}

	return head, nil
}

// Read returns an iterator for the entry history of a single dump stream.
//
// It reads from the stream's dedicated JetStream stream by creating an
// ephemeral pull consumer filtered to the stream's subject. The selector's
// From/To map directly to JetStream sequence numbers.
func (c *NATS) Read(ctx context.Context, stream StreamID, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		streamName := c.streamIDToStreamName(stream)
		subject := c.streamIDToSubject(stream)

		jsStream, err := c.js.Stream(ctx, streamName)
		if err != nil {
			// A missing stream means nothing was ever captured for this
			// dump stream, which is a normal condition, not an error.
			if errors.Is(err, jetstream.ErrStreamNotFound) {
				return
			}
			yield(nil, fmt.Errorf("read entries: stream %q not reachable: %w", streamName, err))
			return
		}

		consumerCfg := jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverByStartSequencePolicy,
			OptStartSeq:       uint64(sel.From),
			InactiveThreshold: 5 * time.Minute,
		}

		// A start sequence of 0 is invalid for DeliverByStartSequencePolicy,
		// so we switch to DeliverAllPolicy in that case.
		if sel.From == 0 {
			consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
		}

		consumer, err := jsStream.CreateOrUpdateConsumer(ctx, consumerCfg)
		if err != nil {
			yield(nil, fmt.Errorf("read entries: create consumer: %w", err))
			return
		}

		for {
			msg, err := consumer.Next(jetstream.FetchMaxWait(c.readTimeout))
			if err != nil {
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					return
				}
				if errors.Is(err, nats.ErrTimeout) {
					// No more messages currently available.
					return
				}
				yield(nil, fmt.Errorf("read entries: iterate messages: %w", err))
				return
			}

			entry, err := c.natsMsgToEntry(msg, stream)
			if err != nil {
				yield(nil, fmt.Errorf("read entries: failed to convert message: %w", err))
				return
			}

			if sel.To != 0 && entry.Seq() > sel.To {
				return
			}

			if !yield(entry, nil) {
				return
			}

			if err := msg.Ack(); err != nil {
				yield(nil, fmt.Errorf("read entries: acknowledge message: %w", err))
				return
			}
		}
	}
}

// Trim purges the stream's entries up to and including upTo. JetStream keeps
// assigning increasing sequences after a purge, so seqs never regress.
func (c *NATS) Trim(ctx context.Context, stream StreamID, upTo Seq) error {
	streamName := c.streamIDToStreamName(stream)

	jsStream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil
		}
		return fmt.Errorf("trim entries: stream %q not reachable: %w", streamName, err)
	}

	// WithPurgeSequence keeps the given sequence, so purge up to upTo+1.
	if err := jsStream.Purge(ctx, jetstream.WithPurgeSequence(uint64(upTo)+1)); err != nil {
		return fmt.Errorf("trim entries: purge stream %q: %w", streamName, err)
	}

	return nil
}

// ensureStream guarantees that a per-stream JetStream stream exists.
//
// It creates a new stream with:
//   - Name:    streamName
//   - Subject: subject (single subject per stream)
//   - Storage, retention from configuration
//
// If the stream already exists, it is returned as-is. We assume only this
// component creates/manages these streams.
func (c *NATS) ensureStream(
	ctx context.Context,
	streamName, subject string,
) error {
	cfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   c.storageType,
		Retention: c.retention,
	}

	_, err := c.js.Stream(ctx, streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("ensure stream %q: get stream: %w", streamName, err)
	}

	_, err = c.js.CreateStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ensure stream %q: create: %w", streamName, err)
	}
	return nil
}

// natsMsgToEntry converts a received jetstream.Msg into an *Entry. The seq
// comes from the message's stream sequence; the capture metadata comes from
// the headers. The global position is unset, JetStream has none.
func (c *NATS) natsMsgToEntry(msg jetstream.Msg, stream StreamID) (*Entry, error) {
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("message metadata: %w", err)
	}

	direction := msg.Headers().Get(headerDirection)
	if direction == "" {
		return nil, errors.New("message is missing direction header")
	}

	protocol := msg.Headers().Get(headerProtocol)
	name := msg.Headers().Get(headerName)
	if name == "" {
		return nil, errors.New("message is missing name header")
	}

	recordedAtStr := msg.Headers().Get(headerRecordedAt)
	if recordedAtStr == "" {
		return nil, errors.New("message is missing recorded-at header")
	}
	recordedAt, err := time.Parse(time.RFC3339Nano, recordedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded-at header: %w", err)
	}

	return NewEntry(
		Seq(meta.Sequence.Stream),
		Zero,
		stream,
		NewRaw(Direction(direction), protocol, name, recordedAt, msg.Data()),
	), nil
}

// streamIDToStreamName converts a StreamID into a per-stream JetStream
// stream name, e.g. "net/ping-1" -> "missive_dump_net_ping-1".
func (c *NATS) streamIDToStreamName(id StreamID) string {
	safeID := sanitizeID(string(id))
	// JetStream names cannot contain '.', so use '_' as separator.
	return fmt.Sprintf("%s_%s", c.streamPrefix, safeID)
}

// streamIDToSubject converts a StreamID into a NATS subject,
// e.g. "net/ping-1" -> "missive.dump.net_ping-1".
func (c *NATS) streamIDToSubject(id StreamID) string {
	safeID := sanitizeID(string(id))
	return fmt.Sprintf("%s.%s", c.subjectPrefix, safeID)
}

// sanitizeID makes a stream ID safe for use in stream and subject names.
func sanitizeID(id string) string {
	// Replace characters that are problematic for stream/subject names.
	s := strings.ReplaceAll(id, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}
