package grpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// ErrorCodeTrailer carries the NaturaCheck error code of a failed call.
const ErrorCodeTrailer = "x-error-code"

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func loggingUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthCheck(info.FullMethod) {
			return handler(ctx, req)
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []logging.Field{
			logging.String("method", info.FullMethod),
			logging.Int64("duration_ms", time.Since(start).Milliseconds()),
			logging.String("code", code.String()),
		}
		switch code {
		case codes.OK:
			logger.Info("grpc request", fields...)
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			logger.Error("grpc request failed", append(fields, logging.Err(err))...)
		default:
			logger.Warn("grpc request rejected", append(fields, logging.Err(err))...)
		}
		return resp, err
	}
}

func metricsUnaryInterceptor(m *metrics.AppMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if m == nil {
			return handler(ctx, req)
		}
		resp, err := handler(ctx, req)
		metrics.RecordGRPCRequest(m, info.FullMethod, status.Code(err).String())
		return resp, err
	}
}

// errorUnaryInterceptor turns AppErrors into gRPC statuses and attaches the
// error code as a trailer. Server-side messages are not exposed.
func errorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		code := errors.GetCode(err)
		if code == errors.CodeUnknown || code == errors.CodeOK {
			code = errors.ErrCodeInternal
		}
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorCodeTrailer, code.String()))
		return nil, toStatus(code, err).Err()
	}
}

func toStatus(code errors.ErrorCode, err error) *status.Status {
	httpStatus := errors.HTTPStatusForCode(code)
	msg := errors.DefaultMessageForCode(code)
	var ae *errors.AppError
	if httpStatus < 500 && stderrors.As(err, &ae) {
		msg = ae.Message
		if ae.Detail != "" {
			msg += ": " + ae.Detail
		}
	}
	return status.New(grpcCodeForHTTP(httpStatus), msg)
}

func grpcCodeForHTTP(s int) codes.Code {
	switch s {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// authUnaryInterceptor verifies the bearer token of NaturaCheck calls and
// enforces the method permission. Health and reflection calls pass through.
func authUnaryInterceptor(verifier keycloak.TokenVerifier, enforcer *keycloak.Enforcer, m *metrics.AppMetrics, logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		perm, guarded := methodPermissions[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}

		if verifier != nil {
			token, err := bearerFromMetadata(ctx)
			if err == nil {
				var claims *keycloak.Claims
				claims, err = verifier.Verify(ctx, token)
				if err == nil {
					ctx = keycloak.WithClaims(ctx, claims)
				}
			}
			metrics.RecordAuthAttempt(m, err == nil)
			if err != nil {
				logger.Warn("authentication failed",
					logging.String("method", info.FullMethod),
					logging.Err(err),
				)
				return nil, err
			}
		}

		if err := enforcer.Enforce(ctx, perm); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func bearerFromMetadata(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("authorization") {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			if token := strings.TrimSpace(v[7:]); token != "" {
				return token, nil
			}
		}
	}
	return "", keycloak.ErrMissingAuthToken
}
