package file_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/file"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func newS3(t *testing.T, client *MockS3Client, cfg file.S3Config) *file.S3Storage {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "exports"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	s, err := file.NewS3Storage(context.Background(), cfg, file.WithS3Client(client))
	require.NoError(t, err)
	return s
}

func TestNewS3Storage(t *testing.T) {
	t.Parallel()

	t.Run("missing bucket", func(t *testing.T) {
		t.Parallel()
		_, err := file.NewS3Storage(context.Background(), file.S3Config{Region: "us-east-1"})
		assert.ErrorIs(t, err, file.ErrInvalidConfig)
	})

	t.Run("missing region", func(t *testing.T) {
		t.Parallel()
		_, err := file.NewS3Storage(context.Background(), file.S3Config{Bucket: "b"})
		assert.ErrorIs(t, err, file.ErrInvalidConfig)
	})

	t.Run("default AWS URL", func(t *testing.T) {
		t.Parallel()
		s := newS3(t, &MockS3Client{}, file.S3Config{Region: "eu-west-1"})
		assert.Equal(t, "https://exports.s3.eu-west-1.amazonaws.com/a/b.json", s.URL("/a/b.json"))
	})

	t.Run("custom endpoint with prefix", func(t *testing.T) {
		t.Parallel()
		s := newS3(t, &MockS3Client{}, file.S3Config{Endpoint: "http://minio:9000/", Prefix: "/wq/"})
		assert.Equal(t, "http://minio:9000/exports/wq/a.json", s.URL("a.json"))
	})
}

func TestS3Storage_Put(t *testing.T) {
	t.Parallel()

	t.Run("uploads with prefix and content type", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			body, _ := io.ReadAll(in.Body)
			return aws.ToString(in.Bucket) == "exports" &&
				aws.ToString(in.Key) == "wq/2025/queue.json" &&
				aws.ToString(in.ContentType) == "application/json" &&
				aws.ToInt64(in.ContentLength) == 2 &&
				string(body) == "[]"
		})).Return(&s3.PutObjectOutput{}, nil).Once()

		s := newS3(t, client, file.S3Config{Prefix: "wq"})
		obj, err := s.Put(context.Background(), "/2025/queue.json", strings.NewReader("[]"), "")
		require.NoError(t, err)
		assert.Equal(t, "2025/queue.json", obj.Key)
		assert.Equal(t, int64(2), obj.Size)
		assert.Equal(t, "https://exports.s3.us-east-1.amazonaws.com/wq/2025/queue.json", obj.URL)
		client.AssertExpectations(t)
	})

	t.Run("path traversal", func(t *testing.T) {
		t.Parallel()
		client := &MockS3Client{}
		_, err := newS3(t, client, file.S3Config{}).Put(context.Background(), "../etc/passwd", strings.NewReader("x"), "")
		assert.ErrorIs(t, err, file.ErrInvalidPath)
		client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
	})

	t.Run("nil body", func(t *testing.T) {
		t.Parallel()
		_, err := newS3(t, &MockS3Client{}, file.S3Config{}).Put(context.Background(), "a", nil, "")
		assert.ErrorIs(t, err, file.ErrNilBody)
	})

	t.Run("access denied keeps the S3 code", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("PutObject", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}).Once()

		_, err := newS3(t, client, file.S3Config{}).Put(context.Background(), "a.json", strings.NewReader("{}"), "")
		assert.ErrorIs(t, err, file.ErrAccessDenied)
		assert.Equal(t, "AccessDenied", file.ErrorCode(err))
	})
}

func TestS3Storage_Delete(t *testing.T) {
	t.Parallel()

	t.Run("deletes existing object", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
			return aws.ToString(in.Key) == "a.json"
		})).Return(&s3.HeadObjectOutput{}, nil).Once()
		client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
			return aws.ToString(in.Key) == "a.json"
		})).Return(&s3.DeleteObjectOutput{}, nil).Once()

		require.NoError(t, newS3(t, client, file.S3Config{}).Delete(context.Background(), "a.json"))
		client.AssertExpectations(t)
	})

	t.Run("missing object", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()

		err := newS3(t, client, file.S3Config{}).Delete(context.Background(), "a.json")
		assert.ErrorIs(t, err, file.ErrFileNotFound)
		client.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
	})
}

func TestS3Storage_Exists(t *testing.T) {
	t.Parallel()

	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "yes"
	})).Return(&s3.HeadObjectOutput{}, nil)
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "no"
	})).Return(nil, &smithy.GenericAPIError{Code: "NotFound"})

	s := newS3(t, client, file.S3Config{})
	assert.True(t, s.Exists(context.Background(), "yes"))
	assert.False(t, s.Exists(context.Background(), "no"))
	assert.False(t, s.Exists(context.Background(), "../no"))
}

func TestS3Storage_List(t *testing.T) {
	t.Parallel()

	t.Run("follows continuation tokens", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
			return aws.ToString(in.Prefix) == "wq/2025/" && in.ContinuationToken == nil
		})).Return(&s3.ListObjectsV2Output{
			Contents: []types.Object{
				{Key: aws.String("wq/2025/b.json"), Size: aws.Int64(2)},
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		}, nil).Once()
		client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
			return aws.ToString(in.ContinuationToken) == "next"
		})).Return(&s3.ListObjectsV2Output{
			Contents: []types.Object{
				{Key: aws.String("wq/2025/a.json"), Size: aws.Int64(1)},
			},
			IsTruncated: aws.Bool(false),
		}, nil).Once()

		objects, err := newS3(t, client, file.S3Config{Prefix: "wq"}).List(context.Background(), "2025/")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, "2025/a.json", objects[0].Key)
		assert.Equal(t, int64(1), objects[0].Size)
		assert.Equal(t, "2025/b.json", objects[1].Key)
		client.AssertExpectations(t)
	})

	t.Run("throttling", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("ListObjectsV2", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "SlowDown"}).Once()

		_, err := newS3(t, client, file.S3Config{}).List(context.Background(), "")
		assert.ErrorIs(t, err, file.ErrServiceUnavailable)
	})
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", file.ErrorCode(nil))
	assert.Equal(t, "", file.ErrorCode(file.ErrInvalidPath))
	assert.Equal(t, "NoSuchBucket", file.ErrorCode(&smithy.GenericAPIError{Code: "NoSuchBucket"}))
}
