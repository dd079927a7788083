package grpccas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xdao.co/passport/storage"
	"xdao.co/passport/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "gRPC CAS client (talks to passport-casd)",
		Usage:       casregistry.UsageCLI,
		Flags: []casregistry.Flag{
			{Name: "grpc-target", Usage: "gRPC target host:port"},
			{Name: "grpc-timeout", Default: "10s", Usage: "Per-RPC timeout"},
			{Name: "grpc-max-msg-bytes", Default: "0", Usage: "Max gRPC message size in bytes; 0 uses grpc defaults"},
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			target := strings.TrimSpace(cfg["grpc-target"])
			if target == "" {
				return nil, nil, errors.New("grpccas: missing grpc-target")
			}
			timeout, err := time.ParseDuration(cfg["grpc-timeout"])
			if err != nil {
				return nil, nil, fmt.Errorf("grpccas: bad grpc-timeout: %w", err)
			}
			maxMsg, err := strconv.Atoi(cfg["grpc-max-msg-bytes"])
			if err != nil {
				return nil, nil, fmt.Errorf("grpccas: bad grpc-max-msg-bytes: %w", err)
			}
			client, err := Dial(target, DialOptions{MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
