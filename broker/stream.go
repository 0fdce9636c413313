package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"soniq/logger"
	"soniq/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field holding the JSON event body.
const payloadField = "payload"

// Message is one delivery from the event stream. DeliveryCount counts how many
// times the broker has handed this entry out, so a message redelivered after a
// worker crash is distinguishable from a fresh one.
type Message struct {
	ID            string
	Payload       []byte
	DeliveryCount int64
}

// StreamConsumer consumes processing events from a Redis Stream consumer
// group. Entries stay pending until acked; stale pending entries from dead
// consumers are reclaimed via XAUTOCLAIM.
type StreamConsumer struct {
	client           *redis.Client
	stream           string
	group            string
	consumer         string
	deadLetterStream string
	claimMinIdle     time.Duration
}

// NewStreamConsumer 创建消费者并确保consumer group存在。
func NewStreamConsumer(client *redis.Client, stream, group, deadLetterStream string, claimMinIdle time.Duration) (*StreamConsumer, error) {
	host, _ := os.Hostname()
	c := &StreamConsumer{
		client:           client,
		stream:           stream,
		group:            group,
		consumer:         fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		deadLetterStream: deadLetterStream,
		claimMinIdle:     claimMinIdle,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return c, nil
}

// Fetch returns up to count messages: first reclaimed stale pending entries,
// then new entries. Blocks up to block duration when nothing is available.
func (c *StreamConsumer) Fetch(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	// 先认领其他worker滞留的pending消息（崩溃恢复路径）
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim on %s failed: %w", c.stream, err)
	}
	if len(claimed) > 0 {
		return c.toMessages(ctx, claimed)
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // nothing available within block window
		}
		return nil, fmt.Errorf("xreadgroup on %s failed: %w", c.stream, err)
	}

	var entries []redis.XMessage
	for _, s := range streams {
		entries = append(entries, s.Messages...)
	}
	return c.toMessages(ctx, entries)
}

// toMessages extracts payloads and attaches per-entry delivery counts.
func (c *StreamConsumer) toMessages(ctx context.Context, entries []redis.XMessage) ([]Message, error) {
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values[payloadField].(string)
		if !ok {
			// 格式损坏的条目转入死信流再ack，留在原流里只会反复认领
			logger.Warn("事件流中存在缺少payload字段的条目，转入死信流", logger.String("id", e.ID))
			c.quarantine(ctx, e)
			_ = c.Ack(ctx, e.ID)
			continue
		}
		msgs = append(msgs, Message{ID: e.ID, Payload: []byte(raw), DeliveryCount: 1})
	}

	if len(msgs) == 0 {
		return msgs, nil
	}

	// XPENDING 补上每条消息的投递次数
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  msgs[0].ID,
		End:    msgs[len(msgs)-1].ID,
		Count:  int64(len(msgs)),
	}).Result()
	if err != nil {
		logger.Warn("查询pending投递次数失败", logger.ErrorField(err))
		return msgs, nil
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	for i := range msgs {
		if n, ok := counts[msgs[i].ID]; ok {
			msgs[i].DeliveryCount = n
		}
	}
	return msgs, nil
}

// quarantine moves a structurally broken stream entry to the dead-letter
// stream so it stays inspectable alongside every other poison message.
// Best-effort: its own failure is logged, the entry is still acked.
func (c *StreamConsumer) quarantine(ctx context.Context, e redis.XMessage) {
	body, err := json.Marshal(malformedEntryRecord(c.stream, e))
	if err != nil {
		return
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.deadLetterStream,
		Values: map[string]interface{}{payloadField: string(body)},
	}).Err(); err != nil {
		logger.Warn("损坏条目转入死信流失败", logger.String("id", e.ID), logger.ErrorField(err))
	}
}

// malformedEntryRecord captures whatever fields the broken entry carried.
func malformedEntryRecord(stream string, e redis.XMessage) *model.DeadLetterRecord {
	raw, _ := json.Marshal(e.Values)
	return &model.DeadLetterRecord{
		OriginalTopic: stream,
		OriginalKey:   e.ID,
		Payload:       raw,
		ErrorMessage:  "missing payload field",
		FailedAt:      time.Now(),
	}
}

// Ack marks a message as fully handled.
func (c *StreamConsumer) Ack(ctx context.Context, id string) error {
	return c.client.XAck(ctx, c.stream, c.group, id).Err()
}

// PublishEvent appends a processing event to a stream. Used by the smoke-test
// subcommand and integration tooling; production events come from the upload
// service.
func PublishEvent(ctx context.Context, client *redis.Client, stream string, ev *model.ProcessingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal processing event: %w", err)
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: string(body)},
	}).Err()
}

// DeadLetterPublisher publishes poison messages for later inspection.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, rec *model.DeadLetterRecord) error
}

// StreamDeadLetterPublisher appends DeadLetterRecords to a Redis Stream.
type StreamDeadLetterPublisher struct {
	client *redis.Client
	stream string
}

func NewStreamDeadLetterPublisher(client *redis.Client, stream string) *StreamDeadLetterPublisher {
	return &StreamDeadLetterPublisher{client: client, stream: stream}
}

func (p *StreamDeadLetterPublisher) Publish(ctx context.Context, rec *model.DeadLetterRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter record: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{payloadField: string(body)},
	}).Err()
}

// ReadDeadLetters 读取最近的死信记录，供 dlq 子命令查看。
func ReadDeadLetters(ctx context.Context, client *redis.Client, stream string, count int64) ([]model.DeadLetterRecord, error) {
	entries, err := client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter stream %s: %w", stream, err)
	}
	records := make([]model.DeadLetterRecord, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values[payloadField].(string)
		if !ok {
			continue
		}
		var rec model.DeadLetterRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logger.Warn("死信记录解析失败", logger.String("id", e.ID), logger.ErrorField(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
