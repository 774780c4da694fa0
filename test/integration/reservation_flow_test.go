package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	"github.com/vladislavdragonenkov/dispatch/internal/seed"
	grpcsvc "github.com/vladislavdragonenkov/dispatch/internal/service/grpc"
	"github.com/vladislavdragonenkov/dispatch/internal/service/httpapi"
	"github.com/vladislavdragonenkov/dispatch/internal/service/outbox"
	"github.com/vladislavdragonenkov/dispatch/internal/service/reservation"
	"github.com/vladislavdragonenkov/dispatch/internal/storage/memory"
	dispatchv1 "github.com/vladislavdragonenkov/dispatch/proto/dispatch/v1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// ReservationFlowTestSuite проверяет резервирование через все внешние слои поверх одного хранилища.
type ReservationFlowTestSuite struct {
	suite.Suite
	store     domain.WindowStore
	outbox    domain.OutboxRepository
	service   *reservation.Service
	grpc      *grpcsvc.DispatchService
	api       *httptest.Server
	publisher *recordingPublisher
	worker    *outbox.Worker
	windowID  string
}

func (suite *ReservationFlowTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	suite.store = memory.NewWindowStore()
	suite.outbox = memory.NewOutboxRepository()

	windows := seed.Generate(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 1)
	_, err := seed.Apply(context.Background(), suite.store, windows, logger)
	suite.Require().NoError(err)
	suite.windowID = windows[0].ID

	suite.service = reservation.NewService(suite.store,
		reservation.WithOutbox(suite.outbox),
		reservation.WithLogger(logger),
		reservation.WithTimeout(5*time.Second),
	)
	suite.grpc = grpcsvc.NewDispatchService(suite.service, logger)
	suite.api = httptest.NewServer(httpapi.NewHandler(suite.service, httpapi.Options{Logger: logger}).Routes())

	suite.publisher = &recordingPublisher{}
	suite.worker = outbox.NewWorker(suite.outbox, suite.publisher,
		outbox.WithLogger(logger),
		outbox.WithRetryBaseDelay(0),
	)
}

func (suite *ReservationFlowTestSuite) TearDownTest() {
	suite.api.Close()
}

func (suite *ReservationFlowTestSuite) reserveHTTP(windowID, zoneID string) int {
	resp, err := http.Post(suite.api.URL+httpapi.BasePath+"/reserve/"+windowID+"?zoneId="+zoneID, "text/plain", nil)
	suite.Require().NoError(err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func (suite *ReservationFlowTestSuite) remaining(zoneID string) int {
	list, err := suite.grpc.ListWindows(context.Background(), &emptypb.Empty{})
	suite.Require().NoError(err)
	windows, err := dispatchv1.WindowsFromList(list)
	suite.Require().NoError(err)
	for _, window := range windows {
		if window.ID == suite.windowID {
			return window.CapacityByZone[zoneID]
		}
	}
	suite.FailNow("window not listed", suite.windowID)
	return 0
}

func (suite *ReservationFlowTestSuite) TestZoneDrainsAcrossTransports() {
	ctx := context.Background()

	_, err := suite.grpc.ReserveSlot(ctx, dispatchv1.ReserveSlotRequest{WindowID: suite.windowID, ZoneID: "zone-1"}.ToStruct())
	suite.Require().NoError(err)
	suite.Equal(http.StatusOK, suite.reserveHTTP(suite.windowID, "zone-1"))
	suite.Require().NoError(suite.service.ReserveSlot(ctx, suite.windowID, "zone-1"))
	suite.Equal(0, suite.remaining("zone-1"))

	suite.Equal(http.StatusConflict, suite.reserveHTTP(suite.windowID, "zone-1"))
	_, err = suite.grpc.ReserveSlot(ctx, dispatchv1.ReserveSlotRequest{WindowID: suite.windowID, ZoneID: "zone-1"}.ToStruct())
	suite.Equal(codes.FailedPrecondition, status.Code(err))

	suite.Equal(3, suite.remaining("zone-2"), "other zones are untouched")
}

func (suite *ReservationFlowTestSuite) TestRejectionsLeaveStateUnchanged() {
	ctx := context.Background()

	suite.Equal(http.StatusNotFound, suite.reserveHTTP("w-missing", "zone-1"))
	suite.Equal(http.StatusBadRequest, suite.reserveHTTP(suite.windowID, "zone-99"))
	_, err := suite.grpc.ReserveSlot(ctx, dispatchv1.ReserveSlotRequest{WindowID: suite.windowID}.ToStruct())
	suite.Equal(codes.InvalidArgument, status.Code(err))

	suite.Equal(3, suite.remaining("zone-1"))
	suite.Equal(0, suite.worker.ProcessOnce(ctx), "rejections produce no events")
}

func (suite *ReservationFlowTestSuite) TestConcurrentReservationsNeverOversell() {
	const attempts = 50
	var (
		wg        sync.WaitGroup
		confirmed atomic.Int64
		conflicts atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				switch suite.reserveHTTP(suite.windowID, "zone-3") {
				case http.StatusOK:
					confirmed.Add(1)
				case http.StatusConflict:
					conflicts.Add(1)
				}
				return
			}
			err := suite.service.ReserveSlot(context.Background(), suite.windowID, "zone-3")
			switch {
			case err == nil:
				confirmed.Add(1)
			case domain.KindOf(err) == domain.ErrorKindZoneExhausted:
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	suite.Equal(int64(1), confirmed.Load())
	suite.Equal(int64(attempts-1), conflicts.Load())
	suite.Equal(0, suite.remaining("zone-3"))
}

func (suite *ReservationFlowTestSuite) TestReservedEventsReachPublisher() {
	ctx := context.Background()
	suite.Require().NoError(suite.service.ReserveSlot(ctx, suite.windowID, "zone-2"))
	suite.Require().NoError(suite.service.ReserveSlot(ctx, suite.windowID, "zone-2"))

	suite.Equal(2, suite.worker.ProcessOnce(ctx))
	suite.Equal(0, suite.worker.ProcessOnce(ctx), "sent events are not republished")

	suite.publisher.mu.Lock()
	defer suite.publisher.mu.Unlock()
	suite.Require().Len(suite.publisher.events, 2)

	remaining := make([]int, 0, 2)
	for _, event := range suite.publisher.events {
		suite.Equal(domain.EventTypeSlotReserved, event.EventType)
		suite.Equal(suite.windowID, event.AggregateID)
		var payload domain.SlotReservedEvent
		suite.Require().NoError(json.Unmarshal(event.Payload, &payload))
		suite.Equal("zone-2", payload.ZoneID)
		remaining = append(remaining, payload.Remaining)
	}
	suite.ElementsMatch([]int{2, 1}, remaining)
}

func TestReservationFlowTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite is skipped in -short mode")
	}
	suite.Run(t, new(ReservationFlowTestSuite))
}
