package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	dispatchv1 "github.com/vladislavdragonenkov/dispatch/proto/dispatch/v1"
)

// Reserver — операции движка резервирования, нужные транспорту.
type Reserver interface {
	ReserveSlot(ctx context.Context, windowID, zoneID string) error
	ListWindows(ctx context.Context) ([]domain.DispatchWindow, error)
}

// DispatchService реализует gRPC API поверх движка резервирования.
type DispatchService struct {
	dispatchv1.UnimplementedDispatchServiceServer

	reserver Reserver
	logger   *log.Entry
}

// NewDispatchService конструирует сервис с зависимостями.
func NewDispatchService(reserver Reserver, logger *log.Entry) *DispatchService {
	if logger == nil {
		logger = log.New().WithField("component", "dispatch-grpc")
	}
	return &DispatchService{reserver: reserver, logger: logger}
}

// ReserveSlot резервирует один слот в зоне окна.
func (s *DispatchService) ReserveSlot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := dispatchv1.ReserveSlotRequestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.WindowID == "" {
		return nil, status.Error(codes.InvalidArgument, "window_id is required")
	}
	if req.ZoneID == "" {
		return nil, status.Error(codes.InvalidArgument, "zone_id is required")
	}

	if err := s.reserver.ReserveSlot(ctx, req.WindowID, req.ZoneID); err != nil {
		return nil, s.statusFromError(err, "ReserveSlot")
	}
	return dispatchv1.ReserveSlotResponse{
		WindowID: req.WindowID,
		ZoneID:   req.ZoneID,
		Status:   dispatchv1.StatusReserved,
	}.ToStruct(), nil
}

// ListWindows возвращает все окна с текущими остатками.
func (s *DispatchService) ListWindows(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	windows, err := s.reserver.ListWindows(ctx)
	if err != nil {
		return nil, s.statusFromError(err, "ListWindows")
	}

	result := make([]dispatchv1.Window, 0, len(windows))
	for _, window := range windows {
		result = append(result, toProtoWindow(window))
	}
	return dispatchv1.WindowsToList(result), nil
}

func (s *DispatchService) statusFromError(err error, operation string) error {
	kind := domain.KindOf(err)
	code := codeForKind(kind)

	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"kind":      string(kind),
	})
	switch code {
	case codes.Internal, codes.Unavailable:
		entry.Error("request failed")
		return status.Error(code, messageForKind(kind))
	default:
		entry.Debug("request rejected")
	}

	switch kind {
	case domain.ErrorKindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(code, err.Error())
	}
}

func codeForKind(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.ErrorKindNone:
		return codes.OK
	case domain.ErrorKindWindowNotFound:
		return codes.NotFound
	case domain.ErrorKindZoneNotOffered:
		return codes.InvalidArgument
	case domain.ErrorKindZoneExhausted:
		return codes.FailedPrecondition
	case domain.ErrorKindStore:
		return codes.Unavailable
	case domain.ErrorKindCanceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// Детали ошибок хранилища наружу не отдаются.
func messageForKind(kind domain.ErrorKind) string {
	if kind == domain.ErrorKindStore {
		return "window store unavailable"
	}
	return "internal error"
}

func toProtoWindow(window domain.DispatchWindow) dispatchv1.Window {
	zones := make(map[string]int, len(window.CapacityByZone))
	for zone, remaining := range window.CapacityByZone {
		zones[zone] = remaining
	}
	return dispatchv1.Window{
		ID:             window.ID,
		Date:           window.Date.Format(domain.DateLayout),
		StartTime:      window.Start.String(),
		EndTime:        window.End.String(),
		CapacityTotal:  window.CapacityTotal,
		CapacityByZone: zones,
	}
}
