package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/SolaceWell/solace-mvp/pkg/metrics"
	"github.com/SolaceWell/solace-mvp/pkg/shardmap"
	"github.com/nats-io/nats.go"
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Batch   Batch  `json:"batch"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes the seeding pipeline to Subject in the Queue
// group, so several indexer processes can split the work. Failed batches are
// re-published with an incremented X-Retry-Count header and land on the DLQ
// after MaxRetries. Records already written by this consumer are dropped
// from incoming batches; they are only marked written after a successful
// run, so retries still see them.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	seen := shardmap.New[struct{}]()

	return nc.QueueSubscribe(Subject, Queue, func(msg *nats.Msg) {
		var batch Batch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			log.Error("indexing: unmarshal failed", "error", err)
			return
		}
		countBatch(deps.Metrics, "received")

		ctx := context.Background()

		// Drop records whose point id was already written. An all-duplicate
		// batch is acked without running the pipeline.
		fresh := make([]SeedRecord, 0, len(batch.Records))
		for _, rec := range batch.Records {
			if _, dup := seen.Get(PointID(batch.Collection, rec)); !dup {
				fresh = append(fresh, rec)
			}
		}
		if len(batch.Records) > 0 && len(fresh) == 0 {
			log.Info("indexing: skipping duplicate batch", "collection", batch.Collection, "records", len(batch.Records))
			countBatch(deps.Metrics, "duplicate")
			ack(msg)
			return
		}
		batch.Records = fresh

		// Get retry count from header.
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, batch)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("indexing: pipeline failed",
				"error", pipeErr,
				"collection", batch.Collection,
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Batch: batch, Error: pipeErr.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("indexing: DLQ publish failed", "error", err)
				}
				countBatch(deps.Metrics, "dlq")
			} else {
				retryMsg := nats.NewMsg(Subject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("indexing: retry publish failed", "error", err)
				}
			}
		} else {
			for _, rec := range batch.Records {
				seen.Set(PointID(batch.Collection, rec), struct{}{})
			}
			written, _ := result.Unwrap()
			log.Info("indexing: batch stored", "collection", batch.Collection, "points", written)
		}

		ack(msg)
	})
}

func countBatch(reg *metrics.Registry, outcome string) {
	if reg != nil {
		reg.Counter(metrics.WithLabels("indexing_batches_total", "outcome", outcome), "Consumed batches by outcome.").Inc()
	}
}

// ack acknowledges JetStream deliveries; plain subscriptions have no reply.
func ack(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}
