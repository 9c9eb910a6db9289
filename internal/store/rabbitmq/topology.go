package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// queueDeclarer is the slice of *amqp.Channel the topology declaration needs.
type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

func queueNames(queue string) (mainQ, retryQ, dlqQ string) {
	return queue, queue + ".retry", queue + ".dlq"
}

// DeclareTopology declares the turn-job queues: main dead-letters rejected
// deliveries to the DLQ, the retry queue dead-letters back to main. Every
// process touching the queues must declare them through this function;
// RabbitMQ rejects a re-declaration with different arguments.
func DeclareTopology(ch queueDeclarer, queue string) error {
	mainQ, retryQ, dlqQ := queueNames(queue)

	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return err
	}

	return nil
}
