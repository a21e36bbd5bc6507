package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
)

const (
	QueueEncode = "queue:encode"

	eventChannelPrefix = "job_events:"
)

type Queue struct {
	client *redis.Client
	logger zerolog.Logger
}

// EncodeJob asks a worker to encode a finalized session.
type EncodeJob struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client, logger: logx.Component("queue")}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) EnqueueEncode(ctx context.Context, jobID, sessionID uuid.UUID) error {
	job := &EncodeJob{ID: jobID, SessionID: sessionID, CreatedAt: time.Now()}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, QueueEncode, data).Err()
}

// DequeueEncode blocks up to timeout for the next job. It returns nil, nil
// when the wait times out.
func (q *Queue) DequeueEncode(ctx context.Context, timeout time.Duration) (*EncodeJob, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueEncode).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job EncodeJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueEncode).Result()
}

// PublishEvent fans a progress event out to every subscriber of the job.
func (q *Queue) PublishEvent(ctx context.Context, jobID uuid.UUID, ev models.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return q.client.Publish(ctx, EventChannel(jobID), data).Err()
}

// SubscribeEvents delivers the job's events until ctx is done, then closes
// the returned channel.
func (q *Queue) SubscribeEvents(ctx context.Context, jobID uuid.UUID) (<-chan models.JobEvent, error) {
	sub := q.client.Subscribe(ctx, EventChannel(jobID))
	// Wait for the subscription so no event published after return is lost
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan models.JobEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := DecodeEvent(msg.Payload)
				if err != nil {
					q.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func EventChannel(jobID uuid.UUID) string {
	return eventChannelPrefix + jobID.String()
}

func DecodeEvent(payload string) (models.JobEvent, error) {
	var ev models.JobEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
