package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"drivingschool_go/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

// DownloadURLTTL is how long a presigned export link stays valid.
const DownloadURLTTL = 24 * time.Hour

type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
}

// NewStorageService creates a new storage service
func NewStorageService() (*StorageService, error) {
	awsCfg := &aws.Config{Region: aws.String(config.AppConfig.AWSRegion)}
	if config.AppConfig.AWSAccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			config.AppConfig.AWSAccessKeyID,
			config.AppConfig.AWSSecretAccessKey,
			"",
		)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewStorageServiceWithClient(s3.New(sess), config.AppConfig.S3BucketName), nil
}

func NewStorageServiceWithClient(client s3iface.S3API, bucket string) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket}
}

// ObjectKey builds folder/YYYY/MM/DD/<random>-<name>.
func ObjectKey(folder, name string, now time.Time) string {
	base := strings.ReplaceAll(filepath.Base(name), " ", "_")
	return fmt.Sprintf("%s/%d/%02d/%02d/%s-%s",
		strings.Trim(folder, "/"),
		now.Year(),
		now.Month(),
		now.Day(),
		uuid.New().String()[:8],
		base,
	)
}

// UploadBytes stores data as a private object and returns its key.
func (s *StorageService) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentType(filepath.Ext(key))
	}
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return key, nil
}

// DownloadURL presigns a GET for key.
func (s *StorageService) DownloadURL(key string, ttl time.Duration) (string, error) {
	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return url, nil
}

// ContentType returns the MIME type for a file extension
func ContentType(extension string) string {
	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		return "text/csv"
	case "zip":
		return "application/zip"
	case "json":
		return "application/json"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
