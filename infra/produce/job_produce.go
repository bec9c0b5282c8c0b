package produce

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

const (
	DispatchExchange = "dispatch.exchange"

	JobEventQueue      = "dispatch.job.events"
	JobEventBindingKey = "job.*"
	JobEventRoutingKey = "job."
)

// JobEventMessage is published on every committed job state change.
type JobEventMessage struct {
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Revision    int64  `json:"revision"`
	Attempt     int    `json:"attempt"`
	Retries     int    `json:"retries"`
	WorkerID    string `json:"worker_id,omitempty"`
	Progress    string `json:"progress,omitempty"`
	ResultRef   string `json:"result_ref,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
	Timestamp   int64  `json:"timestamp"`
}

type JobEventService struct {
	channel *amqp.Channel
}

func InitJobEventService(channel *amqp.Channel) *JobEventService {
	if err := declareQueue(channel, JobEventQueue, JobEventBindingKey); err != nil {
		panic("Failed to declare Job Event queue: " + err.Error())
	}
	return &JobEventService{channel: channel}
}

func NewJobEventMessage(job *entity.Job) JobEventMessage {
	msg := JobEventMessage{
		JobID:       job.ID.String(),
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Revision:    job.Revision,
		Attempt:     job.Attempt,
		Retries:     job.Retries,
		Progress:    job.Progress,
		ResultRef:   job.ResultRef,
		ErrorReason: string(job.ErrorReason),
		ErrorDetail: job.ErrorDetail,
		UpdatedAt:   job.UpdatedAt.Unix(),
	}
	if job.WorkerID != nil {
		msg.WorkerID = job.WorkerID.String()
	}
	return msg
}

// PublishJobEvent routes the event by status, e.g. "job.success".
func (s *JobEventService) PublishJobEvent(ctx context.Context, job *entity.Job) error {
	msg := NewJobEventMessage(job)
	msg.Timestamp = time.Now().Unix()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(
		ctx,
		DispatchExchange,
		JobEventRoutingKey+msg.Status,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
