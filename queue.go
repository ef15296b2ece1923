package settlr

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/settlr/settlr/config"
	redis_db "github.com/settlr/settlr/internal/redis-db"
	"github.com/settlr/settlr/model"
)

// TaskQueue hands reconciliation work to the workers. The production
// implementation is Queue over asynq; tests substitute a recorder.
type TaskQueue interface {
	Enqueue(ctx context.Context, intent *model.PaymentIntent) error
	EnqueueSubmitRetry(ctx context.Context, intent *model.PaymentIntent, attempts int, delay time.Duration) error
	EnqueuePoll(ctx context.Context, intent *model.PaymentIntent, attempts int, delay time.Duration) error
	EnqueueWebhook(payload []byte) error
}

// Queue hands reconciliation work to the asynq workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance from the configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue schedules the initial submission task for a freshly recorded
// intent. The task id is the intent id, so an accidental double enqueue
// of the same intent deduplicates at the broker.
func (q *Queue) Enqueue(ctx context.Context, intent *model.PaymentIntent) error {
	payload, err := json.Marshal(intent.IntentID)
	if err != nil {
		return err
	}

	info, err := q.Client.EnqueueContext(ctx, q.submissionTask(intent, payload, intent.IntentID, 0))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued payment intent: %+v", intent.IntentID)
	return nil
}

// EnqueueSubmitRetry reschedules a submission after a retriable backend
// fault. The attempt count is folded into the task id so the retry is
// not deduplicated against the still-completing original task.
func (q *Queue) EnqueueSubmitRetry(ctx context.Context, intent *model.PaymentIntent, attempts int, delay time.Duration) error {
	payload, err := json.Marshal(intent.IntentID)
	if err != nil {
		return err
	}

	taskID := fmt.Sprintf("%s:submit:%d", intent.IntentID, attempts)
	_, err = q.Client.EnqueueContext(ctx, q.submissionTask(intent, payload, taskID, delay))
	return err
}

// EnqueuePoll schedules a confirmation poll for a submitted intent.
func (q *Queue) EnqueuePoll(ctx context.Context, intent *model.PaymentIntent, attempts int, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(intent.IntentID)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:poll:%d", intent.IntentID, attempts)),
		asynq.Queue(cfg.Queue.PollQueue),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(cfg.Queue.PollQueue, payload, taskOptions...)
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}

// submissionTask assigns the intent to a queue shard derived from the
// sender. All submissions from one sender land on the same shard and
// process serially, so one account can never have two submissions in
// flight at once.
func (q *Queue) submissionTask(intent *model.PaymentIntent, payload []byte, taskID string, delay time.Duration) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return nil
	}
	queueIndex := hashAccountID(intent.Sender) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.PaymentQueue, queueIndex+1)

	taskOptions := []asynq.Option{asynq.TaskID(taskID), asynq.Queue(queueName)}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	return asynq.NewTask(queueName, payload, taskOptions...)
}

// EnqueueWebhook schedules delivery of a webhook notification on the
// webhook queue.
func (q *Queue) EnqueueWebhook(payload []byte) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	task := asynq.NewTask(conf.Queue.WebhookQueue, payload, asynq.Queue(conf.Queue.WebhookQueue))
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

func hashAccountID(account string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(account))
	return int(h.Sum32())
}
