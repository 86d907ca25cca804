// Package storage talks to Cloudflare R2 for keepsake media (song covers,
// meme images, voice memos). The server never proxies bytes; clients upload
// and download through presigned URLs.
package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MediaStore wraps an R2 bucket using the AWS SDK v2 S3 client
type MediaStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewMediaStore creates a new R2-backed media store
func NewMediaStore(accountID, accessKeyID, secretAccessKey, bucket string) (*MediaStore, error) {
	if accountID == "" || accessKeyID == "" || secretAccessKey == "" || bucket == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")

	client := s3.New(s3.Options{
		Region:       "auto",
		Credentials:  creds,
		BaseEndpoint: aws.String(endpoint),
	})

	return &MediaStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
	}, nil
}

// ObjectKey builds a bucket key for a new upload, namespaced by the
// uploader's identity so the two halves of the pair never collide.
func ObjectKey(identity, filename string) string {
	return fmt.Sprintf("media/%s/%s%s", identity, uuid.NewString(), path.Ext(filename))
}

// PresignPut generates a presigned URL for uploading a file
func (m *MediaStore) PresignPut(ctx context.Context, objectKey string, contentType string, expiry time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}

	request, err := m.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign PUT: %w", err)
	}

	return request.URL, nil
}

// PresignGet generates a presigned URL for downloading a file
func (m *MediaStore) PresignGet(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
	}

	request, err := m.presigner.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GET: %w", err)
	}

	return request.URL, nil
}

// DeleteObject removes an object from the bucket
func (m *MediaStore) DeleteObject(ctx context.Context, objectKey string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
	}

	if _, err := m.client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	return nil
}
