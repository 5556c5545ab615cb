// Package queue wraps a Redis Stream and its consumer group as the durable
// queue between the extractor and the loader.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
)

// Message is one delivered stream entry
type Message struct {
	ID     string
	Fields map[string]string
}

// Options configures a Stream
type Options struct {
	Name     string
	Group    string
	Consumer string
	// MaxLen trims the stream approximately on every append. Zero disables it.
	MaxLen int64
	// ClaimMinIdle lets Read take over entries another consumer left pending
	// for at least this long. Zero disables claiming.
	ClaimMinIdle time.Duration
	// DeleteAcked removes entries once acknowledged so that Len is the backlog.
	DeleteAcked bool
}

// Stream is a Redis Stream with one consumer group
type Stream struct {
	client redis.Cmdable
	opts   Options
}

// NewStream creates a stream handle. It does not touch Redis.
func NewStream(client redis.Cmdable, opts Options) *Stream {
	return &Stream{client: client, opts: opts}
}

// Name returns the stream key
func (s *Stream) Name() string {
	return s.opts.Name
}

// EnsureGroup creates the consumer group at the start of the stream,
// creating the stream if needed. An existing group is left alone.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.opts.Name, s.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return etlerr.Transient("create consumer group", err)
	}
	return nil
}

// Publish appends entries in a single MULTI/EXEC pipeline and returns their
// ids. Each entry is a flat field/value list.
func (s *Stream) Publish(ctx context.Context, entries [][]string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, 0, len(entries))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, values := range entries {
			cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: s.opts.Name,
				MaxLen: s.opts.MaxLen,
				Approx: s.opts.MaxLen > 0,
				Values: values,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, etlerr.Transient("publish entries", err)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// Read returns up to count entries for this consumer. Entries already
// delivered to this consumer but never acknowledged come first, then entries
// claimed from idle consumers, then new entries, waiting up to block for them.
// A block of zero or less does not wait.
func (s *Stream) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	pending, err := s.readGroup(ctx, "0", count, -1)
	if etlerr.IsFatalConfig(err) {
		// The group was deleted under us, e.g. by etlctl reset.
		if err := s.EnsureGroup(ctx); err != nil {
			return nil, err
		}
		pending, err = s.readGroup(ctx, "0", count, -1)
	}
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}

	if s.opts.ClaimMinIdle > 0 {
		claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.opts.Name,
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			MinIdle:  s.opts.ClaimMinIdle,
			Start:    "0-0",
			Count:    count,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, etlerr.Transient("claim idle entries", err)
		}
		if len(claimed) > 0 {
			return toMessages(claimed), nil
		}
	}

	if block <= 0 {
		block = -1
	}
	return s.readGroup(ctx, ">", count, block)
}

func (s *Stream) readGroup(ctx context.Context, id string, count int64, block time.Duration) ([]Message, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Name, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, etlerr.FatalConfig("read group", err)
		}
		return nil, etlerr.Transient("read group", err)
	}

	var out []Message
	for _, st := range streams {
		out = append(out, toMessages(st.Messages)...)
	}
	return out, nil
}

// Ack acknowledges ids, deleting them too when DeleteAcked is set
func (s *Stream) Ack(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var ack *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ack = pipe.XAck(ctx, s.opts.Name, s.opts.Group, ids...)
		if s.opts.DeleteAcked {
			pipe.XDel(ctx, s.opts.Name, ids...)
		}
		return nil
	})
	if err != nil {
		return 0, etlerr.Transient("ack entries", err)
	}
	return ack.Val(), nil
}

// Len returns the number of entries in the stream
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.opts.Name).Result()
	if err != nil {
		return 0, etlerr.Transient("stream length", err)
	}
	return n, nil
}

// PendingSummary describes delivered but unacknowledged entries
type PendingSummary struct {
	Count     int64
	Lower     string
	Higher    string
	Consumers map[string]int64
}

// Pending summarizes the group's pending entries
func (s *Stream) Pending(ctx context.Context) (PendingSummary, error) {
	res, err := s.client.XPending(ctx, s.opts.Name, s.opts.Group).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return PendingSummary{}, nil
		}
		return PendingSummary{}, etlerr.Transient("pending summary", err)
	}
	return PendingSummary{
		Count:     res.Count,
		Lower:     res.Lower,
		Higher:    res.Higher,
		Consumers: res.Consumers,
	}, nil
}

// Trim cuts the stream to at most maxLen entries and returns how many were removed
func (s *Stream) Trim(ctx context.Context, maxLen int64) (int64, error) {
	n, err := s.client.XTrimMaxLen(ctx, s.opts.Name, maxLen).Result()
	if err != nil {
		return 0, etlerr.Transient("trim stream", err)
	}
	return n, nil
}

// Destroy deletes the stream together with its consumer groups
func (s *Stream) Destroy(ctx context.Context) error {
	if err := s.client.Del(ctx, s.opts.Name).Err(); err != nil {
		return etlerr.Transient("delete stream", err)
	}
	return nil
}

func toMessages(in []redis.XMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case nil:
				fields[k] = ""
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		out = append(out, Message{ID: m.ID, Fields: fields})
	}
	return out
}
