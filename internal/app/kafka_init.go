package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
)

// newKafkaProducer подменяется в тестах.
var newKafkaProducer = kafka.NewProducer

// initKafkaProducer инициализирует Kafka producer, если brokers не пуст.
// При ошибке сервис продолжает работу без публикации событий.
func initKafkaProducer(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox worker is disabled")
		return nil
	}

	producer, err := newKafkaProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
