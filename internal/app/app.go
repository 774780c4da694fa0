package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/dispatch/internal/health"
	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dispatch/internal/metrics"
	"github.com/vladislavdragonenkov/dispatch/internal/seed"
	grpcsvc "github.com/vladislavdragonenkov/dispatch/internal/service/grpc"
	"github.com/vladislavdragonenkov/dispatch/internal/service/httpapi"
	"github.com/vladislavdragonenkov/dispatch/internal/service/outbox"
	"github.com/vladislavdragonenkov/dispatch/internal/service/reservation"
	"github.com/vladislavdragonenkov/dispatch/internal/version"
	dispatchv1 "github.com/vladislavdragonenkov/dispatch/proto/dispatch/v1"
)

const (
	gracefulStopTimeout  = 5 * time.Second
	limiterJanitorPeriod = time.Minute
	readHeaderTimeout    = 5 * time.Second
)

// Run поднимает хранилище, gRPC и REST API, сервер метрик и outbox worker
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.close()

	if err := srv.serve(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// server держит все компоненты процесса между запуском и остановкой.
type server struct {
	cfg    Config
	logger *log.Entry

	deps     *runtimeDependencies
	producer *kafka.Producer
	service  *reservation.Service
	worker   *outbox.Worker
	limiter  *httpapi.LimiterStore

	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	apiServer     *http.Server
	metricsServer *http.Server

	grpcListener    net.Listener
	apiListener     net.Listener
	metricsListener net.Listener
}

func newServer(ctx context.Context, cfg Config, logger *log.Entry) (_ *server, err error) {
	s := &server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.deps, err = initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.SeedOnStart {
		if err := seedWindows(ctx, cfg, s.deps.store, logger); err != nil {
			return nil, err
		}
	}

	s.producer = initKafkaProducer(cfg.KafkaBrokers, logger)

	options := []reservation.Option{
		reservation.WithMetrics(metrics.NewReservationMetrics()),
		reservation.WithLogger(logger.WithField("layer", "reservation")),
		reservation.WithTimeout(cfg.ReserveTimeout),
	}
	// Без брокера события некому публиковать, outbox не подключается.
	if s.producer != nil {
		options = append(options, reservation.WithOutbox(s.deps.outboxRepo))
		s.worker = newOutboxWorker(cfg, s.deps.outboxRepo, s.producer, logger)
	}
	s.service = reservation.NewService(s.deps.store, options...)

	s.grpcServer, s.grpcHealth = newGRPCServer(s.service, logger)

	var handlerOpts httpapi.Options
	handlerOpts.CORSOrigin = cfg.CORSOrigin
	handlerOpts.Logger = logger.WithField("layer", "http")
	if cfg.RateLimitRPS > 0 {
		s.limiter = httpapi.NewLimiterStore(cfg.RateLimitRPS, cfg.RateLimitBurst)
		handlerOpts.Limiter = s.limiter
	}
	s.apiServer = &http.Server{
		Handler:           httpapi.NewHandler(s.service, handlerOpts).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", s.deps.storageChecker)
	s.metricsServer = newMetricsServer(healthHandler)

	if s.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	if s.apiListener, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	if s.metricsListener, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	return s, nil
}

// serve обслуживает запросы до отмены ctx. Падение любого сервера останавливает остальные.
func (s *server) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Infof("gRPC сервер слушает %s", s.grpcListener.Addr())
		if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.logger.Infof("REST API слушает %s", s.apiListener.Addr())
		return serveHTTP(s.apiServer, s.apiListener)
	})
	g.Go(func() error {
		addr := s.metricsListener.Addr()
		s.logger.Infof("метрики доступны по адресу %s/metrics", addr)
		s.logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		return serveHTTP(s.metricsServer, s.metricsListener)
	})
	if s.worker != nil {
		g.Go(func() error { return s.worker.Run(gctx) })
	}
	if s.limiter != nil {
		s.limiter.StartJanitor(gctx, limiterJanitorPeriod)
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("получен сигнал остановки, останавливаем серверы")
		stopGRPC(s.grpcServer, s.grpcHealth, s.logger)
		shutdownHTTP(s.apiServer, s.logger)
		shutdownHTTP(s.metricsServer, s.logger)
		return nil
	})

	return g.Wait()
}

// close освобождает то, что не закрывается при остановке серверов.
func (s *server) close() {
	for _, lis := range []net.Listener{s.grpcListener, s.apiListener, s.metricsListener} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	closeKafkaProducer(s.producer, s.logger)
	s.deps.close(s.logger)
}

func newGRPCServer(service *reservation.Service, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	dispatchv1.RegisterDispatchServiceServer(grpcServer, grpcsvc.NewDispatchService(service, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(grpcServer)

	// reflection нужен grpcurl и ghz.
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

func newOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		repo,
		kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
}

// seedWindows заполняет каталог окнами из файла или генерирует их на SeedDays дней вперёд.
func seedWindows(ctx context.Context, cfg Config, catalog domain.WindowCatalog, logger *log.Entry) error {
	var windows []domain.DispatchWindow
	if cfg.SeedFile != "" {
		loaded, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		windows = loaded
	} else {
		windows = seed.Generate(time.Now(), cfg.SeedDays)
	}

	if _, err := seed.Apply(ctx, catalog, windows, logger.WithField("component", "seed")); err != nil {
		return fmt.Errorf("seed windows: %w", err)
	}
	return nil
}

// newMetricsServer собирает HTTP-сервер с /metrics и health probes.
func newMetricsServer(healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Register(mux)
	return &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stopGRPC ждёт завершения активных RPC не дольше gracefulStopTimeout.
func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracefulStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
