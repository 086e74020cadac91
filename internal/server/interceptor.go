package server

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

// RequestIDHeader carries the id assigned to each RPC.
const RequestIDHeader = "X-Request-Id"

// LoggingInterceptor logs every unary call with a generated request id.
func LoggingInterceptor(logger log.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			id := req.Header().Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}

			resp, err := next(ctx, req)

			l := log.With(logger, "request_id", id, "procedure", req.Spec().Procedure, "duration", time.Since(start))
			if err != nil {
				level.Warn(l).Log("msg", "request failed", "code", connect.CodeOf(err), "err", err)
				return nil, err
			}
			level.Info(l).Log("msg", "request served")
			resp.Header().Set(RequestIDHeader, id)
			return resp, nil
		}
	}
}
