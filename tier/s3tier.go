package tier

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3manager"

	"nvr-core/config"
	"nvr-core/database"
)

// maxUploadAttempts bounds S3TierUploader's retry loop, mirroring the
// teacher's storage/r2.go UploadFile retry shape.
const maxUploadAttempts = 3

// S3TierUploader terminates a tier chain into an S3/R2-compatible bucket:
// spec.md §4.7 "S3 terminal tier". Manager.applyOne uploads to it instead
// of copying locally when the destination tier has S3 configured.
type S3TierUploader struct {
	cfg      config.S3TierConfig
	uploader *s3manager.Uploader
}

// NewS3TierUploader builds an uploader for a terminal S3-backed tier.
func NewS3TierUploader(cfg config.S3TierConfig) (*S3TierUploader, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %v", err)
	}
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})
	return &S3TierUploader{cfg: cfg, uploader: uploader}, nil
}

// Upload pushes localPath to key in the configured bucket, retrying with a
// short exponential backoff, and returns the public URL.
func (u *S3TierUploader) Upload(localPath, key string) (string, error) {
	contentType := contentTypeFor(localPath)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		f, err := os.Open(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %v", localPath, err)
		}
		_, lastErr = u.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(u.cfg.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		})
		f.Close()
		if lastErr == nil {
			break
		}
		log.Printf("[tier] S3 upload attempt %d/%d failed for %s: %v", attempt, maxUploadAttempts, localPath, lastErr)
		time.Sleep(time.Duration(1<<uint(attempt)) * time.Second)
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to upload %s to S3 tier after %d attempts: %v", localPath, maxUploadAttempts, lastErr)
	}
	return fmt.Sprintf("%s/%s", u.baseURL(), key), nil
}

// Delete removes key from the bucket. Nothing in Manager calls it.
func (u *S3TierUploader) Delete(key string) error {
	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(u.cfg.AccessKey, u.cfg.SecretKey, ""),
		Endpoint:         aws.String(u.cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 session: %v", err)
	}
	client := s3.New(sess)
	_, err = client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3 tier: %v", key, err)
	}
	return nil
}

func (u *S3TierUploader) baseURL() string {
	if u.cfg.BaseURL != "" {
		return u.cfg.BaseURL
	}
	return fmt.Sprintf("%s/%s", u.cfg.Endpoint, u.cfg.Bucket)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4s":
		return "video/mp4"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// s3Key derives the upload key for f from its tier-relative layout:
// <category>/<subcategory>/<camera>/<filename>.
func s3Key(f database.File) string {
	return fmt.Sprintf("%s/%s/%s/%s", f.Category, f.Subcategory, f.CameraID, f.Filename)
}
