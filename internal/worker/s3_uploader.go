// internal/worker/s3_uploader.go
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"audit-aggregator/internal/config"
	"audit-aggregator/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ObjectPutter 는 S3Uploader 가 쓰는 S3 API 의 최소 부분 (*s3.Client 가 만족한다).
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader 는 보고서 / markdown / snapshot / spool 파일을 S3 로 올린다.
//
// 모든 업로드는 context 기반(시도당 timeout + cancel-safe)이며
// 재시도(backoff)는 애플리케이션 레벨에서만 한다.
type S3Uploader struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  ObjectPutter
}

// NewS3Uploader : client 는 보통 NewS3Client 결과, 테스트에서는 fake.
func NewS3Uploader(cfg config.Config, m *metrics.Metrics, client ObjectPutter) *S3Uploader {
	return &S3Uploader{
		cfg:     cfg,
		metrics: m,
		client:  client,
	}
}

// NewS3Client 는 기본 credential chain 과 region 으로 client 를 만든다.
// SDK retry 는 0 으로 고정한다 (재시도 횟수는 S3AppRetries 하나로 관리).
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	var opts []func(*awsCfgLib.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsCfgLib.WithRegion(cfg.AWSRegion))
	}

	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	}), nil
}

// UploadBytesWithRetryCtx
// -----------------------
// 메모리에 있는 바이트를 업로드한다.
// body 는 재시도마다 reader 를 새로 만든다.
func (u *S3Uploader) UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte, contentType string) error {
	return u.withRetry(ctx, key, func() (io.Reader, error) {
		return bytes.NewReader(body), nil
	}, int64(len(body)), contentType)
}

// UploadFileWithRetryCtx
// -----------------------
// spool 에 저장된 파일을 업로드한다. 재시도 전 Seek(0) 으로 되감는다.
func (u *S3Uploader) UploadFileWithRetryCtx(ctx context.Context, key string, f io.ReadSeeker, size int64, contentType string) error {
	return u.withRetry(ctx, key, func() (io.Reader, error) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return f, nil
	}, size, contentType)
}

// withRetry : backoff 200ms 시작, 2 배씩, 최대 2s.
func (u *S3Uploader) withRetry(
	ctx context.Context,
	key string,
	body func() (io.Reader, error),
	size int64,
	contentType string,
) error {

	retries := u.cfg.S3AppRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, err := body()
		if err != nil {
			return err
		}

		if err := u.putObject(ctx, key, r, size, contentType); err == nil {
			atomic.AddInt64(&u.metrics.S3ObjectsStoredTotal, 1)
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&u.metrics.S3PutErrorsTotal, 1)
			log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("s3 put failed")
		}

		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return fmt.Errorf("upload %s: %w", key, lastErr)
}

// putObject 는 PutObject 1회 호출. 시도당 S3Timeout 을 적용한다.
func (u *S3Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	timeout := u.cfg.S3Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	_, err := u.client.PutObject(ctx2, in)
	return err
}
