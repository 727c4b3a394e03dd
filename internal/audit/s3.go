package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/xid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// S3Options configures the archive destination. BaseEndpoint points the
// client at a MinIO instance when set.
type S3Options struct {
	RootUser     string // MINIO_ROOT_USER
	RootPassword string // MINIO_ROOT_PASSWORD
	Bucket       string
	Region       string
	BaseEndpoint string
}

// S3Archiver wraps another auditor and periodically uploads batches of
// events to object storage as JSONL objects.
type S3Archiver struct {
	inner Auditor
	opts  S3Options

	batchSize int
	buf       []Event
	bufCh     chan Event
	done      chan struct{}
}

// NewS3Archiver starts the upload loop. Events still reach the inner auditor
// synchronously; archiving is best effort.
func NewS3Archiver(inner Auditor, opts S3Options, batchSize int) *S3Archiver {
	if batchSize <= 0 {
		batchSize = 100
	}
	a := &S3Archiver{
		inner:     inner,
		opts:      opts,
		batchSize: batchSize,
		bufCh:     make(chan Event, batchSize*2),
		done:      make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *S3Archiver) Record(ctx context.Context, event Event) error {
	if err := a.inner.Record(ctx, event); err != nil {
		return err
	}
	select {
	case a.bufCh <- event:
	default:
		// archive buffer full, drop rather than block the request path
	}
	return nil
}

func (a *S3Archiver) Close() error {
	close(a.bufCh)
	<-a.done
	return a.inner.Close()
}

func (a *S3Archiver) loop() {
	defer close(a.done)
	for event := range a.bufCh {
		a.buf = append(a.buf, event)
		if len(a.buf) >= a.batchSize {
			a.flush()
		}
	}
	a.flush()
}

func (a *S3Archiver) flush() {
	if len(a.buf) == 0 {
		return
	}
	batch := a.buf
	a.buf = nil

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = a.upload(ctx, batch)
}

func (a *S3Archiver) upload(ctx context.Context, batch []Event) error {
	client, err := a.getClient(ctx)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding archive batch: %w", err)
		}
	}

	d := time.Now().UTC()
	key := fmt.Sprintf("audit/%d/%02d/%02d/%s.jsonl", d.Year(), d.Month(), d.Day(), xid.New())

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket: &a.opts.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(body.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("uploading archive batch: %w", err)
	}
	return nil
}

func (a *S3Archiver) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(a.opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.opts.RootUser,
			a.opts.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if a.opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(a.opts.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return client, nil
}
