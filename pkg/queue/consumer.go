package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
)

// Processor handles one raw message. Returning an error sends the message
// through the retry path; the consumer loop itself always survives.
type Processor interface {
	ProcessMessage(ctx context.Context, raw string) error
}

// ConsumerConfig configures the worker pools.
type ConsumerConfig struct {
	// WorkersPerQueue maps a queue name to its worker count.
	WorkersPerQueue map[string]int
	// PollTimeout bounds each blocking poll.
	PollTimeout time.Duration
}

// Consumer runs one pool of workers per managed queue. Each worker executes
// an unbounded poll-dispatch loop: failures are delegated to the retry
// handler, successes clear any retry counter, and nothing a single message
// does can crash the loop.
type Consumer struct {
	logger    *logx.Logger
	queues    *Service
	retry     *RetryHandler
	processor Processor
	config    ConsumerConfig
	metrics   *metrics.Recorder

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer over the given queues and processor.
func NewConsumer(queues *Service, retry *RetryHandler, processor Processor, config ConsumerConfig, recorder *metrics.Recorder) *Consumer {
	if config.PollTimeout <= 0 {
		config.PollTimeout = 500 * time.Millisecond
	}
	return &Consumer{
		logger:    logx.NewLogger("consumer"),
		queues:    queues,
		retry:     retry,
		processor: processor,
		config:    config,
		metrics:   recorder,
	}
}

// Start launches the worker pools.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.shutdown = make(chan struct{})

	for queueName, workers := range c.config.WorkersPerQueue {
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			c.wg.Add(1)
			go c.worker(ctx, queueName, i)
		}
		c.logger.Info("Started %d workers for queue %s", workers, queueName)
	}
	return nil
}

func (c *Consumer) worker(ctx context.Context, queueName string, slot int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Worker %s[%d] stopped by context", queueName, slot)
			return
		case <-c.shutdown:
			c.logger.Debug("Worker %s[%d] stopped by shutdown signal", queueName, slot)
			return
		default:
		}

		message, ok := c.queues.Dequeue(queueName, c.config.PollTimeout)
		if !ok {
			continue
		}

		c.metrics.SetQueueDepth(queueName, c.queues.Size(queueName))

		if err := c.processor.ProcessMessage(ctx, message); err != nil {
			c.logger.Warn("Processing failed on %s: %v", queueName, err)
			c.metrics.ObserveMessage(queueName, false)
			c.retry.HandleFailedMessage(queueName, message, err)
			continue
		}

		c.metrics.ObserveMessage(queueName, true)
		c.retry.MarkSuccess(message)
	}
}

// Stop signals all workers and waits for them to drain within ctx's
// deadline. Workers still running after the deadline are abandoned to their
// context cancellation.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.shutdown)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Consumer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("Consumer stop timed out, abandoning stragglers")
		return ctx.Err()
	}
}
