// Command passport-casd serves a CAS backend over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"xdao.co/passport/internal/logutil"
	"xdao.co/passport/storage"
	"xdao.co/passport/storage/casconfig"
	"xdao.co/passport/storage/casregistry"
	"xdao.co/passport/storage/grpccas"

	_ "xdao.co/passport/storage/ipfs"
	_ "xdao.co/passport/storage/localfs"
	_ "xdao.co/passport/storage/memcas"
)

type options struct {
	listen        string
	metricsListen string
	backend       string
	configPath    string
	rate          float64
	burst         int
	logLevel      string
	logFormat     string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var (
		o            options
		listBackends bool
	)
	cmd := &cobra.Command{
		Use:          "passport-casd",
		Short:        "gRPC content-addressed store for passport blocks",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listBackends {
				for _, b := range casregistry.List(casregistry.UsageDaemon) {
					if b.Description == "" {
						_, _ = fmt.Fprintf(out, "%s\n", b.Name)
						continue
					}
					_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
				}
				return nil
			}
			log, err := logutil.New(o.logLevel, o.logFormat, errOut)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o, log, nil)
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", "127.0.0.1:7777", "gRPC listen address")
	f.StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus /metrics on this address (empty disables)")
	f.StringVar(&o.backend, "backend", "localfs", "CAS backend name")
	f.StringVar(&o.configPath, "config", "", "casconfig YAML file; overrides --backend")
	f.Float64Var(&o.rate, "rate", 0, "requests per second per peer (0 disables limiting)")
	f.IntVar(&o.burst, "burst", 32, "rate limiter burst per peer")
	f.StringVar(&o.logLevel, "log-level", "info", "log level")
	f.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	f.BoolVar(&listBackends, "list-backends", false, "List supported backends and exit")

	gofs := flag.NewFlagSet("backends", flag.ContinueOnError)
	casregistry.RegisterFlags(gofs, casregistry.UsageDaemon)
	f.AddGoFlagSet(gofs)
	return cmd
}

func openCAS(o options) (storage.CAS, func() error, error) {
	if o.configPath == "" {
		return casregistry.Open(o.backend, casregistry.UsageDaemon)
	}
	cfg, err := casconfig.LoadFile(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg.Open(casregistry.UsageDaemon, "")
}

// serve runs the daemon until ctx is done. ready, if set, receives the bound
// gRPC address once the listener is up.
func serve(ctx context.Context, o options, log *slog.Logger, ready func(net.Addr)) error {
	cas, closeFn, err := openCAS(o)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := grpccas.NewMetrics(reg)
	if err != nil {
		return err
	}
	limiter := grpccas.NewPeerLimiter(o.rate, o.burst, 0)

	lis, err := net.Listen("tcp", o.listen)
	if err != nil {
		return err
	}
	defer lis.Close()

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(metrics.UnaryInterceptor(), limiter.UnaryInterceptor()))
	grpccas.RegisterCASServer(s, &grpccas.Server{CAS: cas, Logger: log})

	var metricsSrv *http.Server
	if o.metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: o.metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener failed", "err", err)
			}
		}()
	}

	log.Info("passport-casd listening", "addr", lis.Addr().String(), "backend", o.backend, "config", o.configPath, "rate", o.rate)
	if ready != nil {
		ready(lis.Addr())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("passport-casd shutting down")
	s.GracefulStop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
