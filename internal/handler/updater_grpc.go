package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
	"github.com/Ablestor/expo-electron-updates-server/internal/service"
)

const (
	UpdaterAdminServiceName = "updates.admin.v1.UpdaterAdmin"

	GetUpdaterMethod      = "/" + UpdaterAdminServiceName + "/GetUpdater"
	GetManifestInfoMethod = "/" + UpdaterAdminServiceName + "/GetManifestInfo"
)

// UpdaterAdminServer - административный gRPC API на well-known типах protobuf
type UpdaterAdminServer interface {
	GetUpdater(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetManifestInfo(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

type UpdaterAdminHandler struct {
	updaters  *service.UpdaterService
	manifests *service.ManifestService
}

func NewUpdaterAdminHandler(updaters *service.UpdaterService, manifests *service.ManifestService) *UpdaterAdminHandler {
	return &UpdaterAdminHandler{updaters: updaters, manifests: manifests}
}

func (h *UpdaterAdminHandler) GetUpdater(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "updater id is required")
	}

	log.Debug().Str("component", "grpc").Str("updater_id", req.GetValue()).Msg("GetUpdater")

	updater, err := h.updaters.GetUpdater(ctx, req.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(updater)
}

func (h *UpdaterAdminHandler) GetManifestInfo(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info, err := h.manifests.Info(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(info)
}

// toStruct переводит JSON представление ответа в google.protobuf.Struct
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		log.Error().Err(err).Str("component", "grpc").Msg("admin request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func getUpdaterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UpdaterAdminServer).GetUpdater(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetUpdaterMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UpdaterAdminServer).GetUpdater(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getManifestInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UpdaterAdminServer).GetManifestInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetManifestInfoMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UpdaterAdminServer).GetManifestInfo(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// UpdaterAdminServiceDesc описывает сервис вручную: сообщения берутся из
// well-known типов, поэтому сгенерированный код не нужен
var UpdaterAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: UpdaterAdminServiceName,
	HandlerType: (*UpdaterAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetUpdater", Handler: getUpdaterHandler},
		{MethodName: "GetManifestInfo", Handler: getManifestInfoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "updates/admin/v1/admin.proto",
}

// RegisterUpdaterAdmin регистрирует административный API и health сервис
func RegisterUpdaterAdmin(s *grpc.Server, srv UpdaterAdminServer) *health.Server {
	s.RegisterService(&UpdaterAdminServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(UpdaterAdminServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}
