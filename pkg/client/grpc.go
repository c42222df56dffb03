package client

import (
	"context"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientConfig configures a dialed connection to a peer executor or
// shard manager.
type ClientConfig struct {
	Address      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewGRPCClient dials addr with a linear-backoff retry interceptor on
// Unavailable/Aborted/DeadlineExceeded, the transient outcomes a peer
// executor or the shard manager can return on a blip.
func NewGRPCClient(_ context.Context, cfg ClientConfig) (*grpc.ClientConn, error) {
	opts := []grpc_retry.CallOption{
		grpc_retry.WithBackoff(grpc_retry.BackoffLinear(cfg.RetryBackoff)),
		grpc_retry.WithCodes(codes.Unavailable, codes.Aborted, codes.DeadlineExceeded),
		grpc_retry.WithMax(uint(cfg.MaxRetries)),
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(
			grpc_retry.UnaryClientInterceptor(opts...),
		),
		grpc.WithChainStreamInterceptor(
			grpc_retry.StreamClientInterceptor(opts...),
		),
	}

	return grpc.NewClient(cfg.Address, dialOpts...)
}
