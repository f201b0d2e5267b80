package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/dmitrijs2005/motiumsync/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrUnavailable = errors.New("remote unavailable")

// GRPCGateway talks to records.v1.RecordService.
type GRPCGateway struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      *rpc.RecordServiceClient
	accessToken string
	timeout     time.Duration
	dialOpts    []grpc.DialOption
}

type GRPCOption func(*GRPCGateway)

// WithTimeout bounds every call; zero disables the per-call deadline.
func WithTimeout(d time.Duration) GRPCOption {
	return func(g *GRPCGateway) { g.timeout = d }
}

// WithDialOptions is used by tests to dial over bufconn.
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(g *GRPCGateway) {
		g.dialOpts = append(g.dialOpts, opts...)
	}
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (g *GRPCGateway) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if g.accessToken != "" {
		ctx = withAccessToken(ctx, g.accessToken)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func NewGRPCGateway(endpointURL, accessToken string, opts ...GRPCOption) (*GRPCGateway, error) {
	g := &GRPCGateway{endpointURL: endpointURL, accessToken: accessToken}
	for _, o := range opts {
		o(g)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(g.accessTokenInterceptor),
	}, g.dialOpts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	g.conn = conn
	g.client = rpc.NewRecordServiceClient(conn)
	return g, nil
}

func (g *GRPCGateway) Close() error {
	return g.conn.Close()
}

func (g *GRPCGateway) Upsert(ctx context.Context, req UpsertRequest) Result {
	in, err := rpc.ToStruct(rpc.UpsertRequest{
		Kind:            string(req.Kind),
		ID:              req.ID,
		Payload:         req.Payload,
		ExpectedVersion: req.ExpectedVersion,
		OpID:            req.OpID,
	})
	if err != nil {
		return Validation(err)
	}
	return g.write(g.client.Upsert(ctx, in))
}

func (g *GRPCGateway) Delete(ctx context.Context, req DeleteRequest) Result {
	in, err := rpc.ToStruct(rpc.DeleteRequest{
		Kind:            string(req.Kind),
		ID:              req.ID,
		ExpectedVersion: req.ExpectedVersion,
		OpID:            req.OpID,
	})
	if err != nil {
		return Validation(err)
	}
	return g.write(g.client.Delete(ctx, in))
}

func (g *GRPCGateway) write(out *structpb.Struct, err error) Result {
	if err != nil {
		return g.classify(err)
	}
	var resp rpc.WriteResponse
	if err := rpc.FromStruct(out, &resp); err != nil {
		return Transient(err, false)
	}
	return Success(resp.Version, resp.UpdatedAt)
}

func (g *GRPCGateway) Fetch(ctx context.Context, kind domain.EntityKind, id string) (*models.RemoteSnapshot, error) {
	in, err := rpc.ToStruct(rpc.FetchRequest{Kind: string(kind), ID: id})
	if err != nil {
		return nil, err
	}
	out, err := g.client.Fetch(ctx, in)
	if err != nil {
		return nil, g.mapError(err)
	}
	var snap rpc.Snapshot
	if err := rpc.FromStruct(out, &snap); err != nil {
		return nil, err
	}
	return toSnapshot(snap), nil
}

func (g *GRPCGateway) Ping(ctx context.Context) error {
	out, err := g.client.Ping(ctx, &structpb.Struct{})
	if err != nil {
		return g.mapError(err)
	}
	var resp rpc.PingResponse
	if err := rpc.FromStruct(out, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (g *GRPCGateway) PresignReceipt(ctx context.Context, expenseID, contentType string) (*Receipt, error) {
	in, err := rpc.ToStruct(rpc.PresignRequest{ExpenseID: expenseID, ContentType: contentType})
	if err != nil {
		return nil, err
	}
	out, err := g.client.PresignReceipt(ctx, in)
	if err != nil {
		return nil, g.mapError(err)
	}
	var resp rpc.PresignResponse
	if err := rpc.FromStruct(out, &resp); err != nil {
		return nil, err
	}
	return &Receipt{Key: resp.Key, PutURL: resp.PutURL, GetURL: resp.GetURL}, nil
}

func toSnapshot(s rpc.Snapshot) *models.RemoteSnapshot {
	return &models.RemoteSnapshot{
		Payload:   s.Payload,
		UpdatedAt: s.UpdatedAt,
		Version:   s.Version,
		Deleted:   s.Deleted,
	}
}

// classify maps a failed write onto the outcome taxonomy.
func (g *GRPCGateway) classify(err error) Result {
	st, ok := status.FromError(err)
	if !ok {
		// not a gRPC status: context errors and the like
		return Transient(err, false)
	}
	switch st.Code() {
	case codes.Unavailable:
		return Transient(fmt.Errorf("%w: %s", ErrUnavailable, st.Message()), true)
	case codes.DeadlineExceeded, codes.Canceled, codes.Internal, codes.ResourceExhausted, codes.Unknown:
		return Transient(err, false)
	case codes.Aborted, codes.FailedPrecondition:
		return Conflict(conflictSnapshot(st), fmt.Errorf("%w: %s", common.ErrVersionConflict, st.Message()))
	case codes.Unauthenticated, codes.PermissionDenied:
		return Validation(fmt.Errorf("%w: %s", common.ErrorUnauthorized, st.Message()))
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.OutOfRange:
		return Validation(fmt.Errorf("%w: %s", common.ErrValidation, st.Message()))
	default:
		return Transient(err, false)
	}
}

func conflictSnapshot(st *status.Status) *models.RemoteSnapshot {
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		var snap rpc.Snapshot
		if err := rpc.FromStruct(s, &snap); err == nil {
			return toSnapshot(snap)
		}
	}
	return nil
}

func (g *GRPCGateway) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return common.ErrorUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.NotFound:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
