// Package grpc exposes an event query backend over gRPC.
//
// The service is eventstore.v1.QueryService with a single unary method,
// Execute, whose request and response are google.protobuf.Struct documents
// (see EncodeQuery and EncodeResult).
package grpc

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/arkilian/eventstore/internal/backend"
	esErrors "github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "eventstore.v1.QueryService"
	// ExecuteMethod is the full method name of Execute.
	ExecuteMethod = "/" + ServiceName + "/Execute"

	// RequestIDKey carries the request id in gRPC metadata.
	RequestIDKey = "x-request-id"
	// ErrorCodeKey is the trailer carrying the structured error code of a
	// failed call, so clients can restore it.
	ErrorCodeKey = "x-eventstore-error-code"
)

// QueryServiceServer is the server API for QueryService.
type QueryServiceServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// QueryServiceDesc describes QueryService for grpc.Server.RegisterService.
var QueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eventstore/v1/query.proto",
}

// RegisterQueryServiceServer registers srv with s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&QueryServiceDesc, srv)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// QueryServer implements QueryService on top of a backend.
type QueryServer struct {
	backend backend.Backend
}

// NewQueryServer creates a new gRPC query server.
func NewQueryServer(b backend.Backend) *QueryServer {
	return &QueryServer{backend: b}
}

// Execute decodes the query, runs it on the backend and encodes the result.
func (s *QueryServer) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)
	start := time.Now()

	q, err := DecodeQuery(req)
	if err != nil {
		if !esErrors.IsValidation(err) {
			err = esErrors.NewValidationError(esErrors.CodeInvalidFilter, err.Error())
		}
		return nil, s.fail(ctx, err)
	}

	result, err := s.backend.Execute(ctx, q)
	if err != nil {
		log.Printf("grpc query: request %s query %s failed after %s: %v",
			requestID, query.Fingerprint(q), time.Since(start), err)
		return nil, s.fail(ctx, err)
	}

	resp, err := EncodeResult(result)
	if err != nil {
		return nil, s.fail(ctx, esErrors.NewBackendError(esErrors.CodeMalformedRow, "failed to encode result", err))
	}
	return resp, nil
}

// fail attaches the structured error code as a trailer and converts err to a
// gRPC status.
func (s *QueryServer) fail(ctx context.Context, err error) error {
	if code := esErrors.GetCode(err); code != "" {
		// Best effort: the status alone still carries the category.
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorCodeKey, code))
	}
	return ToStatus(err)
}

// ToStatus maps an error onto a gRPC status.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case esErrors.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case esErrors.GetCode(err) == esErrors.CodeBackendTimeout, errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case esErrors.GetCode(err) == esErrors.CodeBackendUnavailable, errors.Is(err, context.Canceled):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatus restores a structured error from a gRPC status and the error
// code trailer, when present.
func FromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return esErrors.AsBackendError("query server call failed", err)
	}

	code := ""
	if vals := trailer.Get(ErrorCodeKey); len(vals) > 0 {
		code = vals[0]
	}

	switch st.Code() {
	case codes.InvalidArgument:
		if code == "" {
			code = esErrors.CodeInvalidFilter
		}
		return esErrors.NewValidationError(code, st.Message())
	case codes.DeadlineExceeded:
		return esErrors.NewBackendError(esErrors.CodeBackendTimeout, "query server call timed out", err)
	case codes.Unavailable, codes.Canceled:
		return esErrors.NewBackendError(esErrors.CodeBackendUnavailable, "query server unavailable", err)
	default:
		switch code {
		case esErrors.CodeMalformedRow, esErrors.CodeQueryFailed:
		default:
			code = esErrors.CodeQueryFailed
		}
		return esErrors.NewBackendError(code, st.Message(), err)
	}
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
