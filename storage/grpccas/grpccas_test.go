package grpccas

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/storage"
	"xdao.co/passport/storage/localfs"
	"xdao.co/passport/storage/testkit"
)

func startServer(t *testing.T, backend storage.CAS, opts ...grpc.ServerOption) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(opts...)
	RegisterCASServer(srv, &Server{CAS: backend})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.DialContext(ctx) }
	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client := NewClient(cc)
	client.Timeout = 2 * time.Second
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newLocalFS(t *testing.T) storage.CAS {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return cas
}

func TestGRPCCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return startServer(t, newLocalFS(t))
	})
}

func TestGRPCCAS_NotFoundMapsBack(t *testing.T) {
	client := startServer(t, newLocalFS(t))
	id, err := cidutil.CIDv1RawSHA512CID([]byte("absent"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get absent: %v", err)
	}
}

func TestGRPCCAS_MetricsAndRateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}
	limiter := NewPeerLimiter(0.001, 2, time.Minute)
	client := startServer(t, newLocalFS(t), grpc.ChainUnaryInterceptor(
		metrics.UnaryInterceptor(),
		limiter.UnaryInterceptor(),
	))

	ctx := context.Background()
	payload := []byte("hello grpccas")
	for i := 0; i < 2; i++ {
		if _, err := client.Put(ctx, payload); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	_, err = client.Put(ctx, payload)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("third Put: err = %v, want ResourceExhausted", err)
	}

	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("Put", codes.OK.String())); got != 2 {
		t.Fatalf("ok Put count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("Put", codes.ResourceExhausted.String())); got != 1 {
		t.Fatalf("limited Put count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.bytes.WithLabelValues("in")); got != float64(2*len(payload)) {
		t.Fatalf("bytes in = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "passport_casd_requests_total"); err != nil || n == 0 {
		t.Fatalf("GatherAndCount = %d, %v", n, err)
	}
}

func TestPeerLimiterDisabled(t *testing.T) {
	l := NewPeerLimiter(0, 0, 0)
	if l != nil {
		t.Fatalf("expected nil limiter")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("x", time.Now()) {
			t.Fatalf("nil limiter rejected a call")
		}
	}
}

func TestStatusMapping(t *testing.T) {
	for _, err := range []error{storage.ErrNotFound, storage.ErrInvalidCID, storage.ErrCIDMismatch, storage.ErrImmutable} {
		if got := fromStatus(toStatus(err)); !errors.Is(got, err) {
			t.Fatalf("round trip %v -> %v", err, got)
		}
	}
	if st := toStatus(errors.New("disk on fire")); !strings.Contains(st.Error(), "disk on fire") || status.Code(st) != codes.Internal {
		t.Fatalf("unknown error mapped to %v", st)
	}
}
