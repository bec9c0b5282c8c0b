package produce

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
)

const (
	WorkerReportQueue      = "dispatch.worker.reports"
	WorkerReportRoutingKey = "worker.report"

	ReportTypeProgress = "progress"
	ReportTypeResult   = "result"
)

// WorkerReportMessage carries a worker's progress or result report to the
// control plane when agents report over AMQP instead of HTTP.
type WorkerReportMessage struct {
	Type      string                   `json:"type"`
	Progress  *dispatch.ProgressReport `json:"progress,omitempty"`
	Result    *dispatch.ResultReport   `json:"result,omitempty"`
	Timestamp int64                    `json:"timestamp"`
}

type WorkerReportService struct {
	channel *amqp.Channel
}

func InitWorkerReportService(channel *amqp.Channel) *WorkerReportService {
	if err := declareQueue(channel, WorkerReportQueue, WorkerReportRoutingKey); err != nil {
		panic("Failed to declare Worker Report queue: " + err.Error())
	}
	return &WorkerReportService{channel: channel}
}

func (s *WorkerReportService) PublishProgress(ctx context.Context, report dispatch.ProgressReport) error {
	return s.publish(ctx, WorkerReportMessage{Type: ReportTypeProgress, Progress: &report})
}

func (s *WorkerReportService) PublishResult(ctx context.Context, report dispatch.ResultReport) error {
	return s.publish(ctx, WorkerReportMessage{Type: ReportTypeResult, Result: &report})
}

func (s *WorkerReportService) publish(ctx context.Context, msg WorkerReportMessage) error {
	msg.Timestamp = time.Now().Unix()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(
		ctx,
		DispatchExchange,
		WorkerReportRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
