package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dispatch/internal/service/httpapi"
	dispatchv1 "github.com/vladislavdragonenkov/dispatch/proto/dispatch/v1"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.SeedDays = 1
	return cfg
}

// startServer запускает server и останавливает его по завершении теста.
func startServer(t *testing.T, cfg Config) *server {
	t.Helper()

	srv, err := newServer(context.Background(), cfg, log.WithField("test", t.Name()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
		srv.close()
	})
	return srv
}

func httpURL(lis net.Listener, path string) string {
	return "http://" + lis.Addr().String() + path
}

func dialGRPC(t *testing.T, lis net.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServer_ServesRESTAndGRPC(t *testing.T) {
	srv := startServer(t, testConfig())

	resp, err := http.Get(httpURL(srv.apiListener, httpapi.BasePath+"/windows"))
	require.NoError(t, err)
	var windows []httpapi.WindowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&windows))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, windows, 3)
	target := windows[0]
	assert.Equal(t, 3, target.CapacityByZone["zone-1"])

	client := dispatchv1.NewDispatchServiceClient(dialGRPC(t, srv.grpcListener))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.ReserveSlot(ctx, dispatchv1.ReserveSlotRequest{WindowID: target.ID, ZoneID: "zone-1"}.ToStruct())
	require.NoError(t, err)
	reserved, err := dispatchv1.ReserveSlotResponseFromStruct(reply)
	require.NoError(t, err)
	assert.Equal(t, dispatchv1.StatusReserved, reserved.Status)

	resp, err = http.Post(httpURL(srv.apiListener, httpapi.BasePath+"/reserve/"+target.ID+"?zoneId=zone-1"), "text/plain", nil)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Reservation confirmed in zone-1", string(raw))

	list, err := client.ListWindows(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	protoWindows, err := dispatchv1.WindowsFromList(list)
	require.NoError(t, err)
	for _, window := range protoWindows {
		if window.ID == target.ID {
			assert.Equal(t, 1, window.CapacityByZone["zone-1"])
		}
	}

	_, err = client.ReserveSlot(ctx, dispatchv1.ReserveSlotRequest{WindowID: "missing", ZoneID: "zone-1"}.ToStruct())
	assert.Equal(t, codes.NotFound, status.Code(err))

	health, err := healthpb.NewHealthClient(dialGRPC(t, srv.grpcListener)).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.GetStatus())
}

func TestServer_MetricsAndProbes(t *testing.T) {
	srv := startServer(t, testConfig())

	for path, want := range map[string]int{
		"/livez":   http.StatusOK,
		"/readyz":  http.StatusOK,
		"/healthz": http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		resp, err := http.Get(httpURL(srv.metricsListener, path))
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}

	resp, err := http.Get(httpURL(srv.metricsListener, "/metrics"))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "dispatch_reservations_in_flight")
}

func TestServer_SeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "windows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`windows:
  - id: w-file
    date: "2026-03-01"
    start: "09:00"
    end: "11:00"
    capacity_by_zone:
      zone-9: 2
`), 0o600))

	cfg := testConfig()
	cfg.SeedFile = path
	srv := startServer(t, cfg)

	windows, err := srv.service.ListWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "w-file", windows[0].ID)
	assert.Equal(t, 2, windows[0].CapacityTotal)
}

func TestServer_SeedFileMissing(t *testing.T) {
	cfg := testConfig()
	cfg.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := newServer(context.Background(), cfg, log.WithField("test", t.Name()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load seed file")
}

func TestServer_OutboxPublishesReservedEvent(t *testing.T) {
	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicReservationEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope kafka.Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.EventType != domain.EventTypeSlotReserved {
			return fmt.Errorf("unexpected event type %s", envelope.EventType)
		}
		var event domain.SlotReservedEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return err
		}
		if event.ZoneID != "zone-3" || event.Remaining != 0 {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})
	stubKafkaProducer(t, func([]string) (*kafka.Producer, error) {
		return kafka.NewProducerFromSync(syncProducer, nil), nil
	})

	cfg := testConfig()
	cfg.KafkaBrokers = []string{"broker:9092"}
	srv, err := newServer(context.Background(), cfg, log.WithField("test", t.Name()))
	require.NoError(t, err)
	defer srv.close()
	require.NotNil(t, srv.worker)

	ctx := context.Background()
	windows, err := srv.service.ListWindows(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.service.ReserveSlot(ctx, windows[0].ID, "zone-3"))
	require.ErrorIs(t, srv.service.ReserveSlot(ctx, windows[0].ID, "zone-3"), domain.ErrZoneExhausted)

	assert.Equal(t, 1, srv.worker.ProcessOnce(ctx))
}

func TestServer_WithoutKafkaHasNoWorker(t *testing.T) {
	srv, err := newServer(context.Background(), testConfig(), log.WithField("test", t.Name()))
	require.NoError(t, err)
	defer srv.close()

	assert.Nil(t, srv.producer)
	assert.Nil(t, srv.worker)
}

func TestNewServer_AddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.HTTPAddr = busy.Addr().String()

	_, err = newServer(context.Background(), cfg, log.WithField("test", t.Name()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen http")
}

func TestRun_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, testConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}
