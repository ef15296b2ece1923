package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/settlr/settlr"
	"github.com/settlr/settlr/config"
	redis_db "github.com/settlr/settlr/internal/redis-db"
)

// processSubmission drives one submission task. The payload is the
// intent id; the engine re-reads the intent from the ledger so a stale
// task can never act on stale state.
func (b *settlrInstance) processSubmission(ctx context.Context, t *asynq.Task) error {
	var intentID string
	if err := json.Unmarshal(t.Payload(), &intentID); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.settlr.ProcessSubmission(ctx, intentID)
	if err != nil {
		return err
	}

	log.Println(" [*] Submission Processed", intentID)
	return nil
}

// processConfirmation drives one confirmation poll task.
func (b *settlrInstance) processConfirmation(ctx context.Context, t *asynq.Task) error {
	var intentID string
	if err := json.Unmarshal(t.Payload(), &intentID); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.settlr.ProcessConfirmation(ctx, intentID)
	if err != nil {
		return err
	}

	log.Println(" [*] Confirmation Processed", intentID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.PollQueue] = 3

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *settlrInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// Each submission shard processes serially so one sender never has
	// two submissions in flight.
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		mux.HandleFunc(queueName, b.processSubmission)
	}

	mux.HandleFunc(cfg.Queue.PollQueue, b.processConfirmation)
	mux.HandleFunc(cfg.Queue.WebhookQueue, settlr.ProcessWebhook)
}

// workerCommands defines the "workers" command. The workers drain the
// submission shards, the confirmation poll queue, and the webhook
// queue, and run the stalled-intent recovery sweep in the background.
func workerCommands(b *settlrInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start settlr workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			recovery := settlr.NewStalledIntentRecoveryProcessor(b.settlr)
			recovery.Start(context.Background())
			defer recovery.Stop()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
