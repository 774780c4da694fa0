package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
)

func newDLQCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead letter queue tools",
	}

	var cfg kafka.ReplayConfig
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish dead-lettered events to the events topic",
		Long:  "Reads up to --limit messages from the DLQ. Without --execute only prints what would be replayed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers := g.brokerList()
			if len(brokers) == 0 {
				return errors.New("DISPATCH_KAFKA_BROKERS (or --brokers) is required")
			}

			client, err := sarama.NewClient(brokers, sarama.NewConfig())
			if err != nil {
				return fmt.Errorf("create kafka client: %w", err)
			}
			defer client.Close()

			consumer, err := sarama.NewConsumerFromClient(client)
			if err != nil {
				return fmt.Errorf("create kafka consumer: %w", err)
			}
			defer consumer.Close()

			var producer *kafka.Producer
			if cfg.Execute {
				producer, err = kafka.NewProducer(brokers)
				if err != nil {
					return fmt.Errorf("create kafka producer: %w", err)
				}
				defer producer.Close()
			}

			replayer := kafka.NewReplayer(client, kafka.SaramaPartitionSource{Consumer: consumer}, producer, nil)
			stats, err := replayer.Run(cmd.Context(), cfg)
			_, _ = fmt.Fprintf(out(cmd), "dlq replay: processed=%d replayed=%d skipped=%d execute=%t\n",
				stats.Processed, stats.Replayed, stats.Skipped, cfg.Execute)
			return err
		},
	}

	flags := replay.Flags()
	flags.StringVar(&cfg.SourceTopic, "source", kafka.TopicDeadLetterQueue, "DLQ topic")
	flags.StringVar(&cfg.TargetTopic, "target", kafka.TopicReservationEvents, "fallback target topic")
	flags.IntVar(&cfg.Limit, "limit", 100, "maximum messages to process")
	flags.BoolVar(&cfg.Execute, "execute", false, "publish messages instead of a dry run")
	flags.BoolVar(&cfg.FromNewest, "from-newest", false, "read the newest messages of each partition")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", 2*time.Second, "stop a partition after this long without messages")

	cmd.AddCommand(replay)
	return cmd
}
