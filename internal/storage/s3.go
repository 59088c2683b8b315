package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-git/go-billy/v6"
	"github.com/lewtec/pungyeong/annotation"
)

const (
	// PartSize is both the multipart threshold and the part size.
	PartSize           = 8 << 20
	PartConcurrency    = 10
	DefaultMaxAttempts = 3
)

type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Prefix          string
}

// PutAPI uploads a body, splitting it into parts when large.
type PutAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client builds a client from static credentials when given, or the default chain otherwise.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("while loading aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// UploadError is returned once every upload attempt failed.
type UploadError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

type UploadInfo struct {
	Bucket     string
	Key        string
	URI        string
	Size       int64
	UploadedAt time.Time
}

// Uploader stores files under {prefix}/{storageKey}/{storageKey}{ext}.
type Uploader struct {
	bucket      string
	prefix      string
	put         PutAPI
	objects     ObjectAPI
	MaxAttempts int
	// Backoff is the wait before the attempt following a failed one.
	Backoff func(attempt int) time.Duration
}

func NewUploader(client *s3.Client, cfg Config) *Uploader {
	put := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = PartSize
		u.Concurrency = PartConcurrency
	})
	return NewUploaderWithAPI(put, client, cfg)
}

func NewUploaderWithAPI(put PutAPI, objects ObjectAPI, cfg Config) *Uploader {
	return &Uploader{
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		put:         put,
		objects:     objects,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     ExponentialBackoff,
	}
}

// ExponentialBackoff waits 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func (u *Uploader) Bucket() string {
	return u.bucket
}

func (u *Uploader) ObjectKey(storageKey, originalName string) string {
	return path.Join(u.prefix, storageKey, storageKey+objectExt(originalName))
}

func ContentType(originalName string) string {
	return annotation.MIMEType(objectExt(originalName))
}

// objectExt is the extension of originalName, ".jpg" when it has none.
func objectExt(originalName string) string {
	if ext := path.Ext(originalName); ext != "" {
		return ext
	}
	return ".jpg"
}

// UploadFile uploads name from fs, retrying failed attempts with backoff.
// With cleanup set the local file is removed after a successful upload.
func (u *Uploader) UploadFile(ctx context.Context, fs billy.Filesystem, name, storageKey, originalName string, cleanup bool) (*UploadInfo, error) {
	key := u.ObjectKey(storageKey, originalName)
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("while opening %s: %w", name, err)
	}
	info, err := fs.Stat(name)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("while reading size of %s: %w", name, err)
	}

	var lastErr error
	attempts := 0
	for attempts < u.MaxAttempts {
		attempts++
		if attempts > 1 {
			wait := u.Backoff(attempts - 1)
			log.Printf("s3: retrying %s in %v (attempt %d/%d): %s", key, wait, attempts, u.MaxAttempts, lastErr)
			if err := sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			lastErr = err
			break
		}
		_, err := u.put.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(ContentType(originalName)),
		})
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
	}
	f.Close()
	if lastErr != nil {
		return nil, &UploadError{Key: key, Attempts: attempts, Err: lastErr}
	}

	if cleanup {
		if err := fs.Remove(name); err != nil {
			log.Printf("s3: while removing local file %s: %s", name, err)
		}
	}
	return &UploadInfo{
		Bucket:     u.bucket,
		Key:        key,
		URI:        fmt.Sprintf("s3://%s/%s", u.bucket, key),
		Size:       info.Size(),
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (u *Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("while deleting %s: %w", key, err)
	}
	return nil
}

func (u *Uploader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := u.objects.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("while checking %s: %w", key, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
