package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"evently-core/pkg/logger"

	"github.com/IBM/sarama"
)

// ProducerConfig mirrors the notification pipeline's Kafka producer
// configuration, retargeted at the single ticket-generation topic.
type ProducerConfig struct {
	Brokers          []string
	Topic            string
	RetryMax         int
	TimeoutMs        int
	RequiredAcks     sarama.RequiredAcks
	CompressionType  sarama.CompressionCodec
	IdempotentWrites bool
	MaxMessageBytes  int
}

func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "ticket-generation",
		RetryMax:         3,
		TimeoutMs:        10000,
		RequiredAcks:     sarama.WaitForAll,
		CompressionType:  sarama.CompressionSnappy,
		IdempotentWrites: true,
		MaxMessageBytes:  1000000,
	}
}

// Producer publishes job envelopes onto the ticket-generation topic.
type Producer interface {
	Dispatch(ctx context.Context, env envelope) error
	Close() error
	HealthCheck(ctx context.Context) error
}

type kafkaProducer struct {
	producer sarama.SyncProducer
	config   *ProducerConfig
	log      *logger.Logger
}

func NewKafkaProducer(config *ProducerConfig, log *logger.Logger) (Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = config.RequiredAcks
	saramaConfig.Producer.Compression = config.CompressionType
	saramaConfig.Producer.Retry.Max = config.RetryMax
	saramaConfig.Producer.Timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	saramaConfig.Producer.Idempotent = config.IdempotentWrites
	saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	if config.IdempotentWrites {
		saramaConfig.Net.MaxOpenRequests = 1
	}
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket-generation producer: %w", err)
	}

	return &kafkaProducer{producer: producer, config: config, log: log}, nil
}

func (p *kafkaProducer) Dispatch(ctx context.Context, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	partitionKey, jobID := partitionKeyFor(env)

	message := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(partitionKey),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("job_kind"), Value: []byte(env.Kind)},
			{Key: []byte("job_id"), Value: []byte(jobID)},
			{Key: []byte("attempt"), Value: []byte(fmt.Sprintf("%d", env.Attempt))},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send ticket-generation job: %w", err)
	}

	p.log.InfoWithContext(ctx, "ticket generator: job dispatched", map[string]interface{}{
		"kind":      env.Kind,
		"job_id":    jobID,
		"partition": partition,
		"offset":    offset,
	})
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.producer.Close()
}

func (p *kafkaProducer) HealthCheck(ctx context.Context) error {
	if p.producer == nil {
		return fmt.Errorf("ticket-generation producer not initialized")
	}
	return nil
}

// partitionKeyFor routes all jobs for the same booking to the same
// partition, preserving the §4.4 ordering between a generate_tickets
// job and the send_email/send_sms jobs chained after it.
func partitionKeyFor(env envelope) (key string, jobID string) {
	switch env.Kind {
	case kindGenerateTickets:
		return env.Generate.BookingID.String(), env.Generate.JobID
	case kindSendEmail:
		return env.Email.BookingID.String(), env.Email.JobID
	case kindSendSMS:
		return env.SMS.BookingID.String(), env.SMS.JobID
	default:
		return "", ""
	}
}
