package grpccas

import (
	"context"
	"log/slog"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/storage"
)

// Server exposes a storage.CAS over the CAS gRPC service.
type Server struct {
	UnimplementedCASServer
	CAS storage.CAS
	// Logger receives one debug line per failed call. Nil disables logging.
	Logger *slog.Logger
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.CAS == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing CAS")
	}
	b := in.GetValue()
	id, err := s.CAS.Put(ctx, b)
	if err != nil {
		return nil, s.fail(ctx, "put", err)
	}
	// The backend must honour the CID contract; do not relay a foreign CID.
	if !cidutil.Matches(id, b) {
		return nil, s.fail(ctx, "put", storage.ErrCIDMismatch)
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.CAS == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing CAS")
	}
	id, err := decodeCID(in.GetValue())
	if err != nil {
		return nil, s.fail(ctx, "get", err)
	}
	b, err := s.CAS.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "get", err)
	}
	if !cidutil.Matches(id, b) {
		return nil, s.fail(ctx, "get", storage.ErrCIDMismatch)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.CAS == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing CAS")
	}
	id, err := decodeCID(in.GetValue())
	if err != nil {
		return nil, s.fail(ctx, "has", err)
	}
	return wrapperspb.Bool(s.CAS.Has(ctx, id)), nil
}

func (s *Server) fail(ctx context.Context, op string, err error) error {
	if s.Logger != nil && !storage.IsNotFound(err) {
		s.Logger.DebugContext(ctx, "grpccas: request failed", "op", op, "err", err)
	}
	return toStatus(err)
}

func decodeCID(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}
	return id, nil
}
