package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	sc "github.com/dmitrijs2005/motiumsync/internal/server/config"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Receipt is where a client uploads and later downloads a receipt image.
type Receipt struct {
	Key    string
	PutURL string
	GetURL string
}

// ReceiptService presigns object storage URLs for expense receipts. It
// never touches the bytes itself.
type ReceiptService struct {
	client *s3.PresignClient
	bucket string
	ttl    time.Duration
}

// NewReceiptService builds the presign client from static credentials.
// Presigning is local, so no request is sent to the store here.
func NewReceiptService(ctx context.Context, cfg *sc.Config) (*ReceiptService, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		// MinIO and most S3-compatible stores want path-style URLs.
		o.UsePathStyle = true
	})

	return &ReceiptService{
		client: s3.NewPresignClient(client),
		bucket: cfg.S3Bucket,
		ttl:    cfg.PresignTTL,
	}, nil
}

func receiptKey(userID, expenseID string) string {
	return fmt.Sprintf("receipts/%s/%s/%s", userID, expenseID, uuid.New())
}

// Presign returns a fresh object key with PUT and GET URLs for it.
func (s *ReceiptService) Presign(ctx context.Context, userID, expenseID, contentType string) (*Receipt, error) {
	if expenseID == "" {
		return nil, errors.New("expense id is required")
	}
	key := receiptKey(userID, expenseID)

	put := &s3.PutObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}
	if contentType != "" {
		put.ContentType = aws.String(contentType)
	}
	putReq, err := presignPutObject(s.client, ctx, put, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	getReq, err := presignGetObject(s.client, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}

	return &Receipt{Key: key, PutURL: putReq.URL, GetURL: getReq.URL}, nil
}
