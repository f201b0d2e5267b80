package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/rpc"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
	"github.com/dmitrijs2005/motiumsync/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GRPCServer) Upsert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	var req rpc.UpsertRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.records.Upsert(ctx, userID, services.UpsertInput{
		Kind:            req.Kind,
		ID:              req.ID,
		Payload:         req.Payload,
		ExpectedVersion: req.ExpectedVersion,
		OpID:            req.OpID,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return writeResponse(rec)
}

func (s *GRPCServer) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	var req rpc.DeleteRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.records.Delete(ctx, userID, services.DeleteInput{
		Kind:            req.Kind,
		ID:              req.ID,
		ExpectedVersion: req.ExpectedVersion,
		OpID:            req.OpID,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return writeResponse(rec)
}

func (s *GRPCServer) Fetch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	var req rpc.FetchRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.records.Fetch(ctx, userID, req.Kind, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return rpc.ToStruct(rec.Snapshot())
}

func (s *GRPCServer) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.records.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "database ping failed", "error", err)
		return nil, status.Error(codes.Unavailable, "database unavailable")
	}
	return rpc.ToStruct(rpc.PingResponse{Status: "OK"})
}

func (s *GRPCServer) PresignReceipt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	var req rpc.PresignRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ExpenseID == "" {
		return nil, status.Error(codes.InvalidArgument, "expenseId is required")
	}

	r, err := s.receipts.Presign(ctx, userID, req.ExpenseID, req.ContentType)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return rpc.ToStruct(rpc.PresignResponse{Key: r.Key, PutURL: r.PutURL, GetURL: r.GetURL})
}

func writeResponse(rec *models.Record) (*structpb.Struct, error) {
	out, err := rpc.ToStruct(rpc.WriteResponse{Version: rec.Version, UpdatedAt: rec.UpdatedAt})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps service errors onto gRPC codes. Conflicts carry the
// current server copy as a Struct detail.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var conflict *services.ConflictError
	switch {
	case errors.As(err, &conflict):
		st := status.New(codes.Aborted, err.Error())
		detail, derr := rpc.ToStruct(conflict.Current.Snapshot())
		if derr != nil {
			return st.Err()
		}
		if withDetail, derr := st.WithDetails(detail); derr == nil {
			st = withDetail
		}
		return st.Err()
	case errors.Is(err, common.ErrVersionConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrUnknownKind):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(ctx, "request failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}
