package main

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"

	"github.com/sentrygate/gateway/pkg/analyzer"
)

// fakeAnalyzerService is a hand-written stand-in for a protoc-generated
// server, mirroring the harness pkg/analyzer's own tests use against the
// same hand-written gRPC/JSON wire contract.
type fakeAnalyzerService struct {
	health func(context.Context, analyzer.HealthCheckRequest) (analyzer.HealthCheckResponse, error)
	check  func(context.Context, analyzer.CheckContentRequest) (analyzer.CheckContentResponse, error)
}

func fakeAnalyzerServiceDesc(impl *fakeAnalyzerService) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: "analyzer.FirewallService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "HealthCheck",
				Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
					in := new(analyzer.HealthCheckRequest)
					if err := dec(in); err != nil {
						return nil, err
					}
					return impl.health(ctx, *in)
				},
			},
			{
				MethodName: "CheckContent",
				Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
					in := new(analyzer.CheckContentRequest)
					if err := dec(in); err != nil {
						return nil, err
					}
					return impl.check(ctx, *in)
				},
			},
		},
		Metadata: "analyzer.proto",
	}
}

// startFakeAnalyzer brings up impl on a loopback TCP listener and returns
// its address, so analyzer.Dial's public API (a plain addr string) can
// reach it exactly as it would reach the real service.
func startFakeAnalyzer(t *testing.T, impl *fakeAnalyzerService) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	srv.RegisterService(fakeAnalyzerServiceDesc(impl), impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}
