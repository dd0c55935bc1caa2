package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"taskManager/api/dto"
)

// TaskEvent is the record exported for every task update.
type TaskEvent struct {
	dto.TaskUpdate
	OccurredAt time.Time `json:"occurred_at"`
}

// Exporter publishes task updates to a topic keyed by task id, so all events
// of one task land on the same partition in order.
type Exporter struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

func NewExporter(brokers []string, topic string) (*Exporter, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewExporterWithProducer(p, topic), nil
}

func NewExporterWithProducer(p sarama.SyncProducer, topic string) *Exporter {
	return &Exporter{producer: p, topic: topic, now: time.Now}
}

func (e *Exporter) Notify(ctx context.Context, update dto.TaskUpdate) error {
	data, err := json.Marshal(TaskEvent{TaskUpdate: update, OccurredAt: e.now().UTC()})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(update.TaskID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = e.producer.SendMessage(msg)
	return err
}

func (e *Exporter) Close() error {
	return e.producer.Close()
}
