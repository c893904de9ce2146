package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/models"
)

// MockUploader is a mock implementation of the uploader interface
type MockUploader struct {
	mock.Mock
	bodies [][]byte
}

func (m *MockUploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.bodies = append(m.bodies, body)

	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3manager.UploadOutput), args.Error(1)
}

func testConfig() config.PublisherConfig {
	return config.PublisherConfig{
		Bucket:        "launcher-thumbs",
		Endpoint:      "https://storage.googleapis.com",
		PublicBaseURL: "https://storage.googleapis.com/",
		CacheControl:  "public, max-age=31536000",
		Timeout:       5 * time.Second,
		RetryCount:    3,
	}
}

func testArtifact(t *testing.T) *models.ThumbnailArtifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))

	return &models.ThumbnailArtifact{
		Path:         path,
		Width:        640,
		Height:       360,
		SourceWidth:  1920,
		SourceHeight: 1080,
		ContentType:  "image/jpeg",
	}
}

func TestS3Publisher_Publish(t *testing.T) {
	up := new(MockUploader)
	publisher := newS3Publisher(testConfig(), up)
	key := KeyFor("thumbnails", "_r_videos_comments_abc_cat_jumps_")

	up.On("UploadWithContext", mock.Anything, mock.MatchedBy(func(in *s3manager.UploadInput) bool {
		return aws.StringValue(in.Bucket) == "launcher-thumbs" &&
			aws.StringValue(in.Key) == "thumbnails/_r_videos_comments_abc_cat_jumps_.jpg" &&
			aws.StringValue(in.ACL) == "public-read" &&
			aws.StringValue(in.ContentType) == "image/jpeg" &&
			aws.StringValue(in.CacheControl) == "public, max-age=31536000" &&
			aws.StringValue(in.Metadata["originalWidth"]) == "1920" &&
			aws.StringValue(in.Metadata["height"]) == "360"
	})).Return(&s3manager.UploadOutput{}, nil).Once()

	url, err := publisher.Publish(context.Background(), testArtifact(t), key)

	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/launcher-thumbs/thumbnails/_r_videos_comments_abc_cat_jumps_.jpg", url)
	assert.Equal(t, [][]byte{[]byte("jpeg-bytes")}, up.bodies)
	up.AssertExpectations(t)
}

func TestS3Publisher_RetriesFromFirstByte(t *testing.T) {
	up := new(MockUploader)
	publisher := newS3Publisher(testConfig(), up)
	publisher.retryDelay = time.Millisecond

	up.On("UploadWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("503 slow down")).Once()
	up.On("UploadWithContext", mock.Anything, mock.Anything).Return(&s3manager.UploadOutput{}, nil).Once()

	_, err := publisher.Publish(context.Background(), testArtifact(t), "thumbnails/id.jpg")

	require.NoError(t, err)
	require.Len(t, up.bodies, 2)
	assert.Equal(t, up.bodies[0], up.bodies[1])
	up.AssertExpectations(t)
}

func TestS3Publisher_UploadError(t *testing.T) {
	up := new(MockUploader)
	publisher := newS3Publisher(testConfig(), up)
	publisher.retryDelay = time.Millisecond

	up.On("UploadWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	url, err := publisher.Publish(context.Background(), testArtifact(t), "thumbnails/id.jpg")

	assert.Empty(t, url)
	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, 3, uploadErr.Attempts)
	assert.Equal(t, "thumbnails/id.jpg", uploadErr.Key)
	assert.Contains(t, err.Error(), "after 3 attempts")
	up.AssertNumberOfCalls(t, "UploadWithContext", 3)
}

func TestS3Publisher_MissingArtifactIsNotRetried(t *testing.T) {
	up := new(MockUploader)
	publisher := newS3Publisher(testConfig(), up)

	artifact := &models.ThumbnailArtifact{Path: filepath.Join(t.TempDir(), "missing.jpg")}
	_, err := publisher.Publish(context.Background(), artifact, "thumbnails/id.jpg")

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, 1, uploadErr.Attempts)
	up.AssertNotCalled(t, "UploadWithContext", mock.Anything, mock.Anything)
}

func TestS3Publisher_NilArtifact(t *testing.T) {
	publisher := newS3Publisher(testConfig(), new(MockUploader))

	_, err := publisher.Publish(context.Background(), nil, "thumbnails/id.jpg")

	var uploadErr *UploadError
	assert.True(t, errors.As(err, &uploadErr))
}

func TestNewS3Publisher(t *testing.T) {
	cfg := testConfig()
	cfg.Region = "auto"
	cfg.AccessKeyID = "GOOG1EXAMPLE"
	cfg.SecretKey = "secret"

	publisher, err := NewS3Publisher(cfg)

	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/launcher-thumbs/thumbnails/x.jpg", publisher.PublicURL("thumbnails/x.jpg"))
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "thumbnails/abc.jpg", KeyFor("thumbnails", "abc"))
	assert.Equal(t, "thumbnails/abc.jpg", KeyFor("thumbnails/", "abc"))
	assert.Equal(t, "abc.jpg", KeyFor("", "abc"))
	assert.Equal(t, KeyFor("thumbnails", "abc"), KeyFor("thumbnails", "abc"))
}
