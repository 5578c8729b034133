package intake

import (
	"time"

	"github.com/scarybot/bogamail/internal/queue"
)

// NewConsumer returns a poller that feeds receive queue batches to the pipeline.
func NewConsumer(p *Pipeline, delay time.Duration, opts ...queue.PollerOption) *queue.Poller {
	return queue.NewPoller(p.receive, "receive", p.HandleBatch, delay, opts...)
}
