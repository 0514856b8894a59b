package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"RTPSentinel/internal/model"
)

// messageWriter is the part of *kafka.Writer the recorder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes reports and anomalies as JSON events.
type KafkaRecorder struct {
	reports   messageWriter
	anomalies messageWriter
	log       *zap.Logger
}

// NewKafkaRecorder creates writers for the report and anomaly topics.
func NewKafkaRecorder(brokers []string, reportTopic, anomalyTopic string, log *zap.Logger) *KafkaRecorder {
	return &KafkaRecorder{
		reports:   newWriter(brokers, reportTopic),
		anomalies: newWriter(brokers, anomalyTopic),
		log:       log,
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
}

// anomalyEvent is the anomaly topic payload.
type anomalyEvent struct {
	RunID string `json:"run_id"`
	model.AnomalyRecord
}

func reportMessage(rep model.Report) (kafka.Message, error) {
	value, err := json.Marshal(rep)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(rep.RunID), Value: value, Time: rep.GeneratedAt}, nil
}

func anomalyMessage(runID string, rec model.AnomalyRecord) (kafka.Message, error) {
	value, err := json.Marshal(anomalyEvent{RunID: runID, AnomalyRecord: rec})
	if err != nil {
		return kafka.Message{}, err
	}
	// Keyed by scope so one scope's anomalies stay ordered on a partition.
	return kafka.Message{Key: []byte(rec.Scope.String()), Value: value, Time: rec.Timestamp}, nil
}

func (k *KafkaRecorder) RecordReport(ctx context.Context, rep model.Report) error {
	msg, err := reportMessage(rep)
	if err != nil {
		return err
	}
	if err := k.reports.WriteMessages(ctx, msg); err != nil {
		k.log.Error("failed to publish report", zap.String("run_id", rep.RunID), zap.Error(err))
		return err
	}
	k.log.Debug("published report", zap.String("run_id", rep.RunID))
	return nil
}

func (k *KafkaRecorder) RecordAnomaly(ctx context.Context, runID string, rec model.AnomalyRecord) error {
	msg, err := anomalyMessage(runID, rec)
	if err != nil {
		return err
	}
	if err := k.anomalies.WriteMessages(ctx, msg); err != nil {
		k.log.Error("failed to publish anomaly", zap.String("id", rec.ID), zap.Error(err))
		return err
	}
	return nil
}

func (k *KafkaRecorder) Close() error {
	return errors.Join(k.reports.Close(), k.anomalies.Close())
}
