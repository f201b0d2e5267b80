// Package grpc serves records.v1.RecordService.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/rpc"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
	"github.com/dmitrijs2005/motiumsync/internal/server/services"
	"google.golang.org/grpc"
)

type recordSvc interface {
	Upsert(ctx context.Context, userID string, in services.UpsertInput) (*models.Record, error)
	Delete(ctx context.Context, userID string, in services.DeleteInput) (*models.Record, error)
	Fetch(ctx context.Context, userID, kind, id string) (*models.Record, error)
	Ping(ctx context.Context) error
}

type receiptSvc interface {
	Presign(ctx context.Context, userID, expenseID, contentType string) (*services.Receipt, error)
}

type GRPCServer struct {
	address   string
	records   recordSvc
	receipts  receiptSvc
	logger    logging.Logger
	jwtSecret []byte
}

var _ rpc.RecordServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, rs recordSvc, rc receiptSvc, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		records:   rs,
		receipts:  rc,
		jwtSecret: []byte(secretKey),
	}
}

// NewServer returns a grpc.Server with the auth interceptor and the
// service registered, not yet serving.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	rpc.RegisterRecordServiceServer(srv, s)
	return srv
}

// Run listens on the configured address until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}
