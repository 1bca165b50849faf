package respub

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/logger"
)

// S3OutputStore keeps captured output as zstd-compressed objects. Output is
// write-once per evaluation, so there is no versioning.
type S3OutputStore struct {
	client *s3.Client
	bucket string

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewS3OutputStore(region string, bucket string) (*S3OutputStore, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &S3OutputStore{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (s *S3OutputStore) Put(ctx context.Context, id uuid.UUID, output string) (string, error) {
	key := id.String() + ".out.zst"
	compressed := s.encoder.EncodeAll([]byte(output), nil)

	contentType := "application/zstd"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(compressed),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload output object: %w", err)
	}
	logger.FromContext(ctx).Debug("uploaded output object",
		"key", key, "raw_bytes", len(output), "stored_bytes", len(compressed))
	return key, nil
}

func (s *S3OutputStore) Get(ctx context.Context, key string) (string, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var responseError *awshttp.ResponseError
		if errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == 404 {
			return "", eval.ErrOutputNotReady()
		}
		return "", fmt.Errorf("failed to download output object: %w", err)
	}
	defer output.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(output.Body); err != nil {
		return "", fmt.Errorf("failed to read output object: %w", err)
	}
	decompressed, err := s.decoder.DecodeAll(buf.Bytes(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decompress output object: %w", err)
	}
	return string(decompressed), nil
}
