package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
)

func newEventsCmd(rt runtime, g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect reservation events in Kafka",
	}

	var (
		topic      string
		group      string
		fromOldest bool
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print reservation events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers := g.brokerList()
			if len(brokers) == 0 {
				return errors.New("DISPATCH_KAFKA_BROKERS (or --brokers) is required")
			}

			printer := &eventPrinter{w: out(cmd)}
			consumer, err := rt.newConsumer(brokers, group, []string{topic}, printer.handle, kafka.ConsumerOptions{
				FromOldest: fromOldest,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return consumer.Stop()
		},
	}
	tail.Flags().StringVar(&topic, "topic", kafka.TopicReservationEvents, "topic to read")
	tail.Flags().StringVar(&group, "group", "dispatchctl-tail", "consumer group id")
	tail.Flags().BoolVar(&fromOldest, "from-oldest", false, "start from the oldest offset for a new group")

	cmd.AddCommand(tail)
	return cmd
}

// eventPrinter пишет по одной JSON-строке на событие.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

type printedEvent struct {
	Topic     string          `json:"topic"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	EventType string          `json:"event_type"`
	Aggregate string          `json:"aggregate_id"`
	Payload   json.RawMessage `json:"payload"`
}

// handle не возвращает ошибку на неразборчивом сообщении, чтобы tail не слал его в DLQ.
func (p *eventPrinter) handle(_ context.Context, message *sarama.ConsumerMessage) error {
	line := printedEvent{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
	}
	if envelope, err := kafka.ParseEnvelope(message); err == nil && envelope.EventType != "" {
		line.EventType = envelope.EventType
		line.Aggregate = envelope.AggregateID
		line.Payload = envelope.Payload
	} else if json.Valid(message.Value) {
		line.Payload = message.Value
	} else {
		raw, _ := json.Marshal(string(message.Value))
		line.Payload = raw
	}

	encoded, err := json.Marshal(line)
	if err != nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, string(encoded))
	return nil
}
