package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver stores audit events and release documents in a bucket:
//
//	<prefix>/audit/YYYY/MM/DD/<eventID>.json
//	<prefix>/releases/<tag>/<name>
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
}

// NewS3Archiver picks up region and credentials from the default AWS chain.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3: bucket required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
	}, nil
}

func (s *S3Archiver) Record(ctx context.Context, ev *Event) error {
	body, err := MarshalCanonical(ev)
	if err != nil {
		return fmt.Errorf("s3: canonicalize event: %w", err)
	}
	_, err = s.put(ctx, EventKey(s.prefix, ev), body, "application/json")
	return err
}

// ArchiveRelease uploads a release document such as the vote mail and
// returns its object key.
func (s *S3Archiver) ArchiveRelease(ctx context.Context, tag, name string, body []byte, contentType string) (string, error) {
	return s.put(ctx, path.Join(s.prefix, "releases", tag, name), body, contentType)
}

func (s *S3Archiver) put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return key, nil
}

// EventKey is the object key of an archived event.
func EventKey(prefix string, ev *Event) string {
	year, month, day := ev.Ts.Date()
	return path.Join(prefix, "audit",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		ev.ID+".json",
	)
}
