// Package cli реализует dispatchctl — операторский инструмент для миграций,
// начального заполнения окон, ручных резервирований и работы с Kafka.
package cli

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
	dispatchv1 "github.com/vladislavdragonenkov/dispatch/proto/dispatch/v1"
)

const defaultCommandTimeout = 30 * time.Second

// globals — persistent-флаги, общие для всех команд.
type globals struct {
	grpcAddr  string
	dsn       string
	redisAddr string
	brokers   string
	timeout   time.Duration
	logLevel  string
}

func (g *globals) brokerList() []string {
	return kafka.ParseBrokers(g.brokers)
}

// eventConsumer — то, что нужно events tail от kafka.Consumer.
type eventConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}

// runtime собирает внешние зависимости команд; тесты подменяют их.
type runtime struct {
	getenv       func(string) string
	dialDispatch func(addr string) (dispatchv1.DispatchServiceClient, func() error, error)
	openCatalog  func(ctx context.Context, driver string, g *globals) (domain.WindowCatalog, func() error, error)
	newConsumer  func(brokers []string, groupID string, topics []string, handler kafka.MessageHandler, opts kafka.ConsumerOptions) (eventConsumer, error)
	now          func() time.Time
}

func defaultRuntime() runtime {
	return runtime{
		getenv:       os.Getenv,
		dialDispatch: dialDispatch,
		openCatalog:  openCatalog,
		newConsumer: func(brokers []string, groupID string, topics []string, handler kafka.MessageHandler, opts kafka.ConsumerOptions) (eventConsumer, error) {
			return kafka.NewConsumer(brokers, groupID, topics, handler, opts)
		},
		now: time.Now,
	}
}

// NewRoot создаёт корневую команду dispatchctl.
func NewRoot() *cobra.Command {
	return newRoot(defaultRuntime())
}

func newRoot(rt runtime) *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Operator tool for the dispatch window service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.grpcAddr, "grpc-addr", envOr(rt.getenv, "DISPATCH_GRPC_TARGET", "localhost:50051"), "dispatch-service gRPC address")
	flags.StringVar(&g.dsn, "dsn", envOr(rt.getenv, "DISPATCH_POSTGRES_DSN", ""), "PostgreSQL DSN")
	flags.StringVar(&g.redisAddr, "redis-addr", envOr(rt.getenv, "DISPATCH_REDIS_ADDR", "localhost:6379"), "Redis address")
	flags.StringVar(&g.brokers, "brokers", envOr(rt.getenv, "DISPATCH_KAFKA_BROKERS", ""), "comma-separated Kafka brokers")
	flags.DurationVar(&g.timeout, "timeout", defaultCommandTimeout, "timeout for one-shot commands")
	flags.StringVar(&g.logLevel, "log-level", "info", "log level")

	cmd.AddCommand(
		newMigrateCmd(g),
		newSeedCmd(rt, g),
		newWindowsCmd(rt, g),
		newReserveCmd(rt, g),
		newEventsCmd(rt, g),
		newDLQCmd(g),
		newVersionCmd(),
	)
	return cmd
}

func envOr(getenv func(string) string, name, fallback string) string {
	if v := strings.TrimSpace(getenv(name)); v != "" {
		return v
	}
	return fallback
}

// withTimeout ограничивает разовую команду значением --timeout.
func withTimeout(cmd *cobra.Command, g *globals) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func dialDispatch(addr string) (dispatchv1.DispatchServiceClient, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return dispatchv1.NewDispatchServiceClient(conn), conn.Close, nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
