package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// S3Config describes an S3-compatible bucket used to hand audio to vendors
// that fetch input by URL.
type S3Config struct {
	Endpoint        string
	PublicEndpoint  string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	SignExpiry      time.Duration
}

// S3 uploads local audio and returns time-bounded signed GET URLs.
type S3 struct {
	cfg S3Config

	once   sync.Once
	client *s3.S3
	err    error
}

// NewS3 returns an object store. Credentials are checked lazily so a missing
// bucket only fails the jobs that need it.
func NewS3(cfg S3Config) *S3 {
	if cfg.Region == "" {
		cfg.Region = "garage"
	}
	if cfg.SignExpiry <= 0 {
		cfg.SignExpiry = time.Hour
	}
	return &S3{cfg: cfg}
}

// UploadAndSign uploads localPath under a job-scoped object name and returns
// a presigned URL valid for the configured expiry.
func (s *S3) UploadAndSign(ctx context.Context, localPath, jobID string) (string, error) {
	if strings.TrimSpace(s.cfg.Bucket) == "" {
		return "", types.Wrap(types.ErrConfig, "object storage", "upload", "S3_BUCKET is required", nil)
	}
	client, err := s.s3Client()
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", types.Wrap(types.ErrLocalIO, "object storage", "upload", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", types.Wrap(types.ErrLocalIO, "object storage", "upload", localPath, err)
	}

	key := ObjectName(jobID, localPath)
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "object storage", "upload", key, err)
	}

	req, _ := client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	signed, err := req.Presign(s.cfg.SignExpiry)
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "object storage", "presign", key, err)
	}
	return RewriteHost(signed, s.cfg.PublicEndpoint)
}

func (s *S3) s3Client() (*s3.S3, error) {
	s.once.Do(func() {
		if s.cfg.AccessKeyID == "" || s.cfg.SecretAccessKey == "" || s.cfg.Endpoint == "" {
			s.err = types.Wrap(types.ErrConfig, "object storage", "init", "S3 credentials/endpoint are required", nil)
			return
		}
		sess, err := session.NewSession(&aws.Config{
			Endpoint:         aws.String(s.cfg.Endpoint),
			Region:           aws.String(s.cfg.Region),
			Credentials:      credentials.NewStaticCredentials(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
			S3ForcePathStyle: aws.Bool(true),
		})
		if err != nil {
			s.err = types.Wrap(types.ErrConfig, "object storage", "init", "", err)
			return
		}
		s.client = s3.New(sess)
	})
	return s.client, s.err
}

// ObjectName builds "<jobID>-<random hex><ext>" for an uploaded file.
func ObjectName(jobID, localPath string) string {
	return fmt.Sprintf("%s-%s%s", jobID, strings.ReplaceAll(uuid.NewString(), "-", ""), filepath.Ext(localPath))
}

// RewriteHost replaces the scheme and host of signed with those of
// publicEndpoint, keeping path and query. Used when the bucket is reachable
// by vendors under a different address than the one the service uploads to.
func RewriteHost(signed, publicEndpoint string) (string, error) {
	if strings.TrimSpace(publicEndpoint) == "" {
		return signed, nil
	}
	pe, err := url.Parse(publicEndpoint)
	if err != nil {
		return "", types.Wrap(types.ErrConfig, "object storage", "public endpoint", publicEndpoint, err)
	}
	pu, err := url.Parse(signed)
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "object storage", "presign", "", err)
	}
	if pe.Scheme != "" {
		pu.Scheme = pe.Scheme
	}
	if pe.Host != "" {
		pu.Host = pe.Host
	}
	return pu.String(), nil
}
