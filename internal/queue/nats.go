package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// envelope is the wire form of a published job
type envelope struct {
	ID  string              `json:"id"`
	Job types.SettlementJob `json:"job"`
}

// NATSBackend implements Registry on a JetStream key-value bucket and
// Transport on a JetStream work-queue stream
type NATSBackend struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	kv         nats.KeyValue
	config     *config.QueueConfig
	logger     zerolog.Logger
	streamName string
	subject    string
	consumer   string
	ackWait    time.Duration
}

// NewNATSBackend connects to NATS and prepares the stream and bucket
func NewNATSBackend(cfg *config.QueueConfig, instanceName string, logger zerolog.Logger) (*NATSBackend, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("queue urls are required")
	}

	opts := []nats.Option{
		nats.Name(instanceName),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}

	url := cfg.URLs[0]
	if len(cfg.URLs) > 1 {
		for _, u := range cfg.URLs[1:] {
			url += "," + u
		}
		opts = append(opts, nats.DontRandomize())
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &NATSBackend{
		conn:       conn,
		js:         js,
		config:     cfg,
		logger:     logger.With().Str("component", "queue-nats").Logger(),
		streamName: cfg.StreamName,
		subject:    cfg.Subject,
		consumer:   cfg.Consumer,
		ackWait:    config.Duration(cfg.AckWait, 2*time.Minute),
	}

	if err := b.initializeStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	if err := b.initializeBucket(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize job bucket: %w", err)
	}

	b.logger.Info().
		Str("url", url).
		Str("stream", b.streamName).
		Str("subject", b.subject).
		Str("bucket", cfg.KVBucket).
		Msg("NATS job backend initialized")

	return b, nil
}

// AckWait is how long the consumer waits for an ack before redelivering
func (b *NATSBackend) AckWait() time.Duration {
	return b.ackWait
}

func (b *NATSBackend) initializeStream() error {
	if _, err := b.js.StreamInfo(b.streamName); err == nil {
		b.logger.Info().Str("stream", b.streamName).Msg("Stream already exists")
		return nil
	}

	stream, err := b.js.AddStream(&nats.StreamConfig{
		Name:       b.streamName,
		Subjects:   []string{b.subject},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Discard:    nats.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	b.logger.Info().Str("stream", stream.Config.Name).Msg("Stream created successfully")
	return nil
}

func (b *NATSBackend) initializeBucket() error {
	kv, err := b.js.KeyValue(b.config.KVBucket)
	if err == nil {
		b.kv = kv
		return nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return err
	}

	kv, err = b.js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      b.config.KVBucket,
		Description: "settlement job registry",
		History:     1,
		Storage:     nats.FileStorage,
	})
	if err != nil {
		return err
	}
	b.kv = kv
	return nil
}

// Get implements Registry
func (b *NATSBackend) Get(ctx context.Context, id string) (*JobRecord, error) {
	entry, err := b.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var rec JobRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &rec, nil
}

// Create implements Registry
func (b *NATSBackend) Create(ctx context.Context, rec *JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if _, err := b.kv.Create(rec.ID, data); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return ErrJobExists
		}
		return err
	}
	return nil
}

// Update implements Registry
func (b *NATSBackend) Update(ctx context.Context, rec *JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = b.kv.Put(rec.ID, data)
	return err
}

// Delete implements Registry
func (b *NATSBackend) Delete(ctx context.Context, id string) error {
	return b.kv.Delete(id)
}

// Publish implements Transport. The job ID doubles as the JetStream
// message ID so the stream's duplicate window also drops repeats.
func (b *NATSBackend) Publish(ctx context.Context, jobID string, job *types.SettlementJob) error {
	data, err := json.Marshal(envelope{ID: jobID, Job: *job})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ack, err := b.js.Publish(b.subject, data, nats.MsgId(jobID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	b.logger.Debug().
		Str("job_id", jobID).
		Uint64("stream_seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("Job published to stream")

	return nil
}

// Consume implements Transport. It blocks until ctx is cancelled.
func (b *NATSBackend) Consume(ctx context.Context, fn func(ctx context.Context, d Delivery, job *types.SettlementJob)) error {
	maxDeliver := b.config.Attempts
	if maxDeliver < 1 {
		maxDeliver = 1
	}

	sub, err := b.js.QueueSubscribe(
		b.subject,
		b.consumer,
		func(m *nats.Msg) {
			var env envelope
			if err := json.Unmarshal(m.Data, &env); err != nil {
				b.logger.Error().Err(err).Msg("Failed to unmarshal job, terminating delivery")
				m.Term()
				return
			}

			attempt := 1
			if md, err := m.Metadata(); err == nil && md != nil {
				attempt = int(md.NumDelivered)
			}

			fn(ctx, &natsDelivery{msg: m, id: env.ID, attempt: attempt}, &env.Job)
		},
		nats.Durable(b.consumer),
		nats.ManualAck(),
		nats.AckWait(b.ackWait),
		nats.MaxDeliver(maxDeliver),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.logger.Info().
		Str("subject", b.subject).
		Str("consumer", b.consumer).
		Msg("Subscribed to job stream")

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		b.logger.Error().Err(err).Msg("Error unsubscribing")
	}

	return nil
}

// Close closes the NATS connection
func (b *NATSBackend) Close() error {
	b.logger.Info().Msg("Closing NATS connection")

	if b.conn != nil {
		b.conn.Close()
	}

	return nil
}

// GetStats returns stream statistics
func (b *NATSBackend) GetStats() (*QueueStats, error) {
	stream, err := b.js.StreamInfo(b.streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	return &QueueStats{
		Messages:  stream.State.Msgs,
		Bytes:     stream.State.Bytes,
		FirstSeq:  stream.State.FirstSeq,
		LastSeq:   stream.State.LastSeq,
		Consumers: stream.State.Consumers,
	}, nil
}

// QueueStats represents stream statistics
type QueueStats struct {
	Messages  uint64 `json:"messages"`
	Bytes     uint64 `json:"bytes"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Consumers int    `json:"consumers"`
}

type natsDelivery struct {
	msg     *nats.Msg
	id      string
	attempt int
}

func (d *natsDelivery) JobID() string { return d.id }
func (d *natsDelivery) Attempt() int  { return d.attempt }
func (d *natsDelivery) Ack() error    { return d.msg.Ack() }
func (d *natsDelivery) Term() error   { return d.msg.Term() }

func (d *natsDelivery) InProgress() error { return d.msg.InProgress() }

func (d *natsDelivery) Retry(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}
