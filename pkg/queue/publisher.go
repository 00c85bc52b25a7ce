package queue

import "agentflow/pkg/logx"

// Publisher enqueues messages asynchronously so a slow or full queue never
// blocks the caller's thread of control (the webhook layer accepts the
// request and moves on; a dropped publish surfaces only in logs).
type Publisher struct {
	logger *logx.Logger
	queues *Service
}

// NewPublisher creates a publisher over the queue service.
func NewPublisher(queues *Service) *Publisher {
	return &Publisher{
		logger: logx.NewLogger("publisher"),
		queues: queues,
	}
}

// Publish offers the message to the named queue on a separate goroutine.
func (p *Publisher) Publish(queueName, message string) {
	go func() {
		if !p.queues.Enqueue(queueName, message) {
			p.logger.Error("Dropped message for %s: enqueue failed", queueName)
		}
	}()
}
