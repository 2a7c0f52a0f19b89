package tickets

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"evently-core/pkg/logger"

	"github.com/IBM/sarama"
)

// Handler processes one job kind each; Service implements all three.
type Handler interface {
	HandleGenerateTickets(ctx context.Context, job GenerateTicketsJob) error
	HandleSendEmail(ctx context.Context, job SendEmailJob) error
	HandleSendSMS(ctx context.Context, job SendSMSJob) error
}

// ConsumerConfig mirrors the notification pipeline's consumer group
// shape, tuned for the ticket-generation topic's narrower job set.
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	Topic             string
	SessionTimeoutMs  int
	HeartbeatMs       int
	MaxProcessingTime time.Duration
	NumWorkers        int

	// Total attempts and base backoff per job kind (3 attempts each;
	// base 5s for generation, 10s for email, 15s for SMS).
	MaxAttempts     int
	GenerateBackoff time.Duration
	EmailBackoff    time.Duration
	SMSBackoff      time.Duration
}

func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:           []string{"localhost:9092"},
		GroupID:           "evently-ticket-generator",
		Topic:             "ticket-generation",
		SessionTimeoutMs:  30000,
		HeartbeatMs:       3000,
		MaxProcessingTime: 5 * time.Minute,
		NumWorkers:        3,
		MaxAttempts:       3,
		GenerateBackoff:   5 * time.Second,
		EmailBackoff:      10 * time.Second,
		SMSBackoff:        15 * time.Second,
	}
}

// Consumer drives the ticket-generation consumer group.
type Consumer struct {
	group    sarama.ConsumerGroup
	config   *ConsumerConfig
	handler  Handler
	registry *jobRegistry
	log      *logger.Logger
	ready    chan struct{}
	readyOnce sync.Once
}

// NewConsumerForService is the composition root's entry point: it pulls
// the job registry out of the concrete service so the registry type
// never has to be exported, then wires the consumer group to drive that
// same service as its Handler.
func NewConsumerForService(config *ConsumerConfig, svc Service, log *logger.Logger) (*Consumer, error) {
	impl, ok := svc.(*service)
	if !ok {
		return NewConsumer(config, svc, newJobRegistry(), log)
	}
	return NewConsumer(config, svc, impl.registry, log)
}

func NewConsumer(config *ConsumerConfig, handler Handler, registry *jobRegistry, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMs) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatMs) * time.Millisecond
	saramaConfig.Consumer.MaxProcessingTime = config.MaxProcessingTime
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		config:   config,
		handler:  handler,
		registry: registry,
		log:      log,
		ready:    make(chan struct{}),
	}, nil
}

// Start runs NumWorkers consumer loops until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for err := range c.group.Errors() {
			c.log.ErrorWithContext(ctx, "ticket generator: consumer group error", err, nil)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < c.config.NumWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (c *Consumer) runWorker(ctx context.Context, workerID int) {
	h := &groupHandler{consumer: c, workerID: workerID, readyOnce: &c.readyOnce, ready: c.ready}
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.group.Consume(ctx, []string{c.config.Topic}, h); err != nil {
				c.log.ErrorWithContext(ctx, "ticket generator: worker consume error", err, map[string]interface{}{"worker": workerID})
				time.Sleep(time.Second)
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	consumer  *Consumer
	workerID  int
	readyOnce *sync.Once
	ready     chan struct{}
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.process(session.Context(), message); err != nil {
				h.consumer.log.ErrorWithContext(session.Context(), "ticket generator: job failed permanently", err, nil)
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	var env envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return err
	}

	switch env.Kind {
	case kindGenerateTickets:
		return h.run(ctx, env.Generate.JobID, h.consumer.config.GenerateBackoff, func() error {
			return h.consumer.handler.HandleGenerateTickets(ctx, *env.Generate)
		})
	case kindSendEmail:
		return h.run(ctx, env.Email.JobID, h.consumer.config.EmailBackoff, func() error {
			return h.consumer.handler.HandleSendEmail(ctx, *env.Email)
		})
	case kindSendSMS:
		return h.run(ctx, env.SMS.JobID, h.consumer.config.SMSBackoff, func() error {
			return h.consumer.handler.HandleSendSMS(ctx, *env.SMS)
		})
	default:
		return nil
	}
}

// run executes fn with the retry policy: MaxAttempts total calls,
// exponential backoff off the kind's base duration, tracking state in
// the registry.
func (h *groupHandler) run(ctx context.Context, jobID string, backoff time.Duration, fn func() error) error {
	h.consumer.registry.setActive(jobID)

	maxAttempts := h.consumer.config.MaxAttempts
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			h.consumer.registry.setCompleted(jobID)
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := backoff * time.Duration(1<<uint(attempt))
		h.consumer.registry.setDelayed(jobID)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			h.consumer.registry.setFailed(jobID, ctx.Err())
			return ctx.Err()
		}
	}
	h.consumer.registry.setFailed(jobID, lastErr)
	return lastErr
}
