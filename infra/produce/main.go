package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	JobEventService     *JobEventService
	WorkerReportService *WorkerReportService
}

var produceInstance *Produce

func InitProduce(channel *amqp.Channel) *Produce {
	if produceInstance != nil {
		return produceInstance
	}

	jobEventService := InitJobEventService(channel)
	if jobEventService == nil {
		panic("Failed to initialize Job Event service")
	}

	workerReportService := InitWorkerReportService(channel)
	if workerReportService == nil {
		panic("Failed to initialize Worker Report service")
	}

	produceInstance = &Produce{
		JobEventService:     jobEventService,
		WorkerReportService: workerReportService,
	}

	return produceInstance
}

func GetProduce() *Produce {
	if produceInstance == nil {
		panic("Produce not initialized. Call InitProduce() first.")
	}
	return produceInstance
}

// declareQueue declares the shared topic exchange plus one durable queue
// bound to it.
func declareQueue(channel *amqp.Channel, queue, routingKey string) error {
	err := channel.ExchangeDeclare(
		DispatchExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	_, err = channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	return channel.QueueBind(
		queue,
		routingKey,
		DispatchExchange,
		false,
		nil,
	)
}
