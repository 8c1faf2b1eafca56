package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/rtlink/internal/bus"
	"github.com/matheus3301/rtlink/internal/link"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// eventBuffer is the per-stream subscription size. Slow watchers lose
// events rather than stalling the link.
const eventBuffer = 256

// LinkService implements LinkServer over a link client.
type LinkService struct {
	profile   string
	startedAt time.Time
	client    *link.Client
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewLinkService creates a new link service.
func NewLinkService(profile string, client *link.Client, b *bus.Bus, logger *zap.Logger) *LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkService{
		profile:   profile,
		startedAt: time.Now(),
		client:    client,
		bus:       b,
		logger:    logger,
	}
}

func (s *LinkService) status() (*structpb.Struct, error) {
	st := s.client.Status()
	out, err := toStruct(st)
	if err != nil {
		return nil, err
	}
	out.Fields["profile"] = structpb.NewStringValue(s.profile)
	out.Fields["daemonUptimeMs"] = structpb.NewNumberValue(float64(time.Since(s.startedAt).Milliseconds()))
	if s.bus != nil {
		out.Fields["watchers"] = structpb.NewNumberValue(float64(s.bus.Subscribers()))
		out.Fields["eventsDropped"] = structpb.NewNumberValue(float64(s.bus.Dropped()))
	}
	return out, nil
}

func (s *LinkService) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.status()
}

func (s *LinkService) Connect(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.client.Connect(ctx); err != nil {
		return nil, toStatus("connect", err)
	}
	return s.status()
}

func (s *LinkService) Disconnect(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.client.Disconnect(ctx); err != nil {
		return nil, toStatus("disconnect", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *LinkService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	typ := req.GetFields()["type"].GetStringValue()
	var payload any
	if p := req.GetFields()["payload"]; p != nil {
		if _, isNull := p.GetKind().(*structpb.Value_NullValue); !isNull {
			payload = p.AsInterface()
		}
	}

	id, err := s.client.Send(ctx, typ, payload)
	if err != nil {
		return nil, toStatus("send", err)
	}
	return structpb.NewStruct(map[string]any{
		"messageId": id,
		"buffered":  !s.client.IsConnected(),
	})
}

func (s *LinkService) MarkRead(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	ids, err := int64List(req.GetFields()["message_ids"])
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "message_ids: %v", err)
	}
	if err := s.client.MarkMessagesAsRead(ctx, ids); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *LinkService) SetTyping(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var err error
	if req.GetFields()["typing"].GetBoolValue() {
		err = s.client.StartTyping(ctx)
	} else {
		err = s.client.StopTyping(ctx)
	}
	if err != nil {
		return nil, toStatus("typing", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *LinkService) ListPresence(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"peers": s.client.ActivePeers()})
}

func (s *LinkService) ListTyping(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"peers": s.client.TypingPeers(),
		"self":  s.client.IsTyping(),
	})
}

func (s *LinkService) GetReadStatus(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v := req.GetFields()["message_id"]
	if v == nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_id is required")
	}
	id, err := toInt64(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "message_id: %v", err)
	}
	out, err := toStruct(s.client.MessageReadStatus(id))
	if err != nil {
		return nil, err
	}
	out.Fields["messageId"] = structpb.NewNumberValue(float64(id))
	return out, nil
}

func (s *LinkService) GetMetrics(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.client.Metrics())
}

func (s *LinkService) ResetMetrics(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.client.ResetMetrics()
	return &emptypb.Empty{}, nil
}

func (s *LinkService) WatchEvents(req *structpb.Struct, stream EventStream) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not initialized")
	}
	ns := req.GetFields()["namespace"].GetStringValue()
	if ns == "" {
		ns = "link."
	}

	events, unsub := s.bus.Subscribe(ns, eventBuffer)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := eventToStruct(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func eventToStruct(evt bus.Event) (*structpb.Struct, error) {
	payload, err := toValue(evt.Payload)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":        structpb.NewStringValue(evt.ID),
		"kind":      structpb.NewStringValue(evt.Kind),
		"timestamp": structpb.NewStringValue(evt.Timestamp.UTC().Format(time.RFC3339Nano)),
		"payload":   payload,
	}}, nil
}

// toValue converts v through its JSON form, so struct tags decide field
// names. Durations come out as nanoseconds.
func toValue(v any) (*structpb.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

func toStruct(v any) (*structpb.Struct, error) {
	val, err := toValue(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := val.GetStructValue()
	if out == nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %T is not an object", v)
	}
	return out, nil
}

func toInt64(v *structpb.Value) (int64, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("want a number, got %T", v.GetKind())
	}
	if n.NumberValue != float64(int64(n.NumberValue)) {
		return 0, fmt.Errorf("%v is not an integer", n.NumberValue)
	}
	return int64(n.NumberValue), nil
}

func int64List(v *structpb.Value) ([]int64, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("want a list of ids")
	}
	ids := make([]int64, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		id, err := toInt64(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// toStatus maps link errors onto gRPC codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, link.ErrEmptyType), errors.Is(err, link.ErrInvalidPayload):
		code = codes.InvalidArgument
	case errors.Is(err, link.ErrBufferFull):
		code = codes.ResourceExhausted
	case errors.Is(err, link.ErrNotConnected):
		code = codes.FailedPrecondition
	case errors.Is(err, link.ErrConnectInProgress), errors.Is(err, link.ErrConnectAborted):
		code = codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		var lerr *link.Error
		if errors.As(err, &lerr) && lerr.Kind == link.KindConnection {
			code = codes.Unavailable
		}
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
