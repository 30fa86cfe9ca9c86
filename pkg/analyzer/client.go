package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const (
	serviceName         = "analyzer.FirewallService"
	methodHealthCheck   = "/" + serviceName + "/HealthCheck"
	methodCheckContent  = "/" + serviceName + "/CheckContent"
	maxMessageSizeBytes = 4 * 1024 * 1024
	defaultBackoffBase  = time.Second
)

// ErrUnavailable wraps every analyzer failure the client gives up on: retries
// exhausted, a non-retryable status, or the caller's context ending during
// backoff. Callers treat this as the fail-closed case: admission is denied.
var ErrUnavailable = errors.New("analyzer: service unavailable")

// Client is a retrying gRPC client to the external content analyzer,
// transported with the package's hand-written JSON codec since no protoc
// stub is generated for this build.
type Client struct {
	conn        *grpc.ClientConn
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
}

// Dial opens a keepalive-enabled connection to addr. The connection is lazy:
// gRPC reconnects transparently on transient failures, and Client's retry
// loop absorbs any single failed attempt.
func Dial(addr string, timeout time.Duration, maxRetries int, keepaliveTime time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if keepaliveTime <= 0 {
		keepaliveTime = 10 * time.Second
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(contentSubtype),
			grpc.MaxCallRecvMsgSize(maxMessageSizeBytes),
			grpc.MaxCallSendMsgSize(maxMessageSizeBytes),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("analyzer: dial: %w", err)
	}
	return &Client{conn: conn, timeout: timeout, maxRetries: maxRetries, backoffBase: defaultBackoffBase}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// HealthCheck reports whether the analyzer considers itself ready to serve.
func (c *Client) HealthCheck(ctx context.Context) (HealthCheckResponse, error) {
	var resp HealthCheckResponse
	err := c.invokeWithRetry(ctx, methodHealthCheck, HealthCheckRequest{}, &resp)
	return resp, err
}

// CheckContent submits one piece of content for analysis. On exhausted
// retries or a non-retryable error it returns ErrUnavailable so the caller
// can fail closed.
func (c *Client) CheckContent(ctx context.Context, req CheckContentRequest) (CheckContentResponse, error) {
	var resp CheckContentResponse
	err := c.invokeWithRetry(ctx, methodCheckContent, req, &resp)
	return resp, err
}

func (c *Client) invokeWithRetry(ctx context.Context, method string, req, resp any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.conn.Invoke(attemptCtx, method, req, resp)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// the transport may be wedged after an unavailable/deadline error;
		// force the channel to re-establish before the next attempt
		c.conn.ResetConnectBackoff()
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func retryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// backoff sleeps 1s, 2s, 4s, ... before retry attempts 1, 2, 3, ...
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}
