package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/indexsync/internal/model"
)

// QueueCounter is the read side of the mutation queue.
type QueueCounter interface {
	CountQueue(ctx context.Context, entityName string, op model.Operation) (int, error)
}

// QueueCollector reports the queue depth per operation at scrape time.
type QueueCollector struct {
	queue   QueueCounter
	timeout time.Duration
	depth   *prometheus.Desc
}

// NewQueueCollector creates a collector reading from queue.
func NewQueueCollector(queue QueueCounter) *QueueCollector {
	return &QueueCollector{
		queue:   queue,
		timeout: 5 * time.Second,
		depth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "depth"),
			"Pending queue entries.",
			[]string{"operation"}, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for _, op := range []model.Operation{model.OpIndex, model.OpDelete} {
		n, err := c.queue.CountQueue(ctx, "", op)
		if err != nil {
			slog.Warn("queue depth scrape failed", "operation", op, "error", err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(n), string(op))
	}
}
