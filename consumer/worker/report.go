package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/infra/produce"
)

// ReportApplier is the part of the dispatcher the report consumer drives.
type ReportApplier interface {
	ReportProgress(ctx context.Context, r dispatch.ProgressReport) (dispatch.Directive, error)
	ReportResult(ctx context.Context, r dispatch.ResultReport) error
}

// ReportConsumer applies worker reports delivered over AMQP. Reports the
// dispatcher refuses as stale or invalid are acked and dropped; anything
// else is requeued.
type ReportConsumer struct {
	channel    *amqp.Channel
	dispatcher ReportApplier
	logger     dispatch.Logger
}

func NewReportConsumer(channel *amqp.Channel, dispatcher ReportApplier, logger dispatch.Logger) *ReportConsumer {
	return &ReportConsumer{
		channel:    channel,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (c *ReportConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		produce.WorkerReportQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register worker report consumer: %w", err)
	}

	c.logger.InfoWithContextf(ctx, "[Report Consumer] Started listening for worker reports on queue: %s", produce.WorkerReportQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.InfoWithContextf(ctx, "[Report Consumer] Shutting down...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.WarningWithContextf(ctx, "[Report Consumer] Channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *ReportConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	switch c.apply(ctx, msg.Body) {
	case outcomeAck:
		_ = msg.Ack(false)
	case outcomeDrop:
		_ = msg.Nack(false, false)
	case outcomeRetry:
		_ = msg.Nack(false, true)
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeDrop
	outcomeRetry
)

func (c *ReportConsumer) apply(ctx context.Context, body []byte) outcome {
	var payload produce.WorkerReportMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[Report Consumer] Failed to unmarshal message")
		return outcomeDrop
	}

	var err error
	switch {
	case payload.Type == produce.ReportTypeProgress && payload.Progress != nil:
		_, err = c.dispatcher.ReportProgress(ctx, *payload.Progress)
	case payload.Type == produce.ReportTypeResult && payload.Result != nil:
		err = c.dispatcher.ReportResult(ctx, *payload.Result)
	default:
		c.logger.ErrorWithContextf(ctx, nil, "[Report Consumer] Unknown report type %q", payload.Type)
		return outcomeDrop
	}

	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, dispatch.ErrConflict), errors.Is(err, dispatch.ErrNotFound),
		errors.Is(err, dispatch.ErrValidation), errors.Is(err, dispatch.ErrWorkerLost):
		c.logger.WarningWithContextf(ctx, "[Report Consumer] Discarding %s report: %v", payload.Type, err)
		return outcomeAck
	default:
		c.logger.ErrorWithContextf(ctx, err, "[Report Consumer] Failed to apply %s report, requeueing", payload.Type)
		return outcomeRetry
	}
}
