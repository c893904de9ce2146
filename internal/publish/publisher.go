package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/cenkalti/backoff/v4"
	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
)

var log = logger.Get("Publish")

const publicReadACL = "public-read"

// Publisher uploads a thumbnail artifact and returns its public URL
type Publisher interface {
	Publish(ctx context.Context, artifact *models.ThumbnailArtifact, key string) (string, error)
}

// uploader is the subset of s3manager.Uploader the publisher needs
type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Publisher writes objects through the S3 API. Pointed at
// storage.googleapis.com it talks to the GCS interoperability endpoint.
type S3Publisher struct {
	uploader      uploader
	bucket        string
	publicBaseURL string
	cacheControl  string
	timeout       time.Duration
	retryCount    int
	retryDelay    time.Duration
}

// NewS3Publisher creates a publisher backed by an aws-sdk-go session
func NewS3Publisher(cfg config.PublisherConfig) (*S3Publisher, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}

	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage session: %w", err)
	}

	return newS3Publisher(cfg, s3manager.NewUploader(sess)), nil
}

func newS3Publisher(cfg config.PublisherConfig, up uploader) *S3Publisher {
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = cfg.Endpoint
	}

	return &S3Publisher{
		uploader:      up,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(baseURL, "/"),
		cacheControl:  cfg.CacheControl,
		timeout:       cfg.Timeout,
		retryCount:    cfg.RetryCount,
		retryDelay:    500 * time.Millisecond,
	}
}

// Publish uploads the artifact under key with public-read access. Uploads
// are retried with exponential backoff within the publish timeout.
func (p *S3Publisher) Publish(ctx context.Context, artifact *models.ThumbnailArtifact, key string) (string, error) {
	if artifact == nil {
		return "", &UploadError{Bucket: p.bucket, Key: key, Err: fmt.Errorf("no artifact to upload")}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	attempts := p.retryCount
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := p.upload(ctx, artifact, key)
		if err != nil {
			log.Emit(logger.WARNING, "Upload attempt %d/%d for %s failed: %v\n", attempt, attempts, key, err)
		}
		return err
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	if err := backoff.Retry(operation, retry); err != nil {
		return "", &UploadError{Bucket: p.bucket, Key: key, Attempts: attempt, Err: err}
	}

	url := p.PublicURL(key)
	log.Emit(logger.DEBUG, "Published %s\n", url)

	return url, nil
}

func (p *S3Publisher) upload(ctx context.Context, artifact *models.ThumbnailArtifact, key string) error {
	// Reopened per attempt so a retry uploads from the first byte
	file, err := os.Open(artifact.Path)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to open artifact: %w", err))
	}
	defer file.Close()

	cacheControl := artifact.CacheControl
	if cacheControl == "" {
		cacheControl = p.cacheControl
	}

	_, err = p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         file,
		ACL:          aws.String(publicReadACL),
		ContentType:  aws.String(artifact.ContentType),
		CacheControl: aws.String(cacheControl),
		Metadata:     Metadata(artifact),
	})

	return err
}

// PublicURL returns the unsigned public address of key
func (p *S3Publisher) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", p.publicBaseURL, p.bucket, key)
}

// Metadata returns the object metadata recorded with an uploaded thumbnail
func Metadata(artifact *models.ThumbnailArtifact) map[string]*string {
	return map[string]*string{
		"width":          aws.String(strconv.Itoa(artifact.Width)),
		"height":         aws.String(strconv.Itoa(artifact.Height)),
		"originalWidth":  aws.String(strconv.Itoa(artifact.SourceWidth)),
		"originalHeight": aws.String(strconv.Itoa(artifact.SourceHeight)),
	}
}

// KeyFor returns the object key for an item's thumbnail. Keys are stable per
// identifier so republishing overwrites the previous object.
func KeyFor(prefix, id string) string {
	return path.Join(prefix, id+".jpg")
}
