package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/utterlabs/utter/fault"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// audioPrefix namespaces synthesized artifacts so the retention sweep can
// list and clean them in bulk
const audioPrefix = "audio"

// DefaultSignedURLTTL bounds retrieval links when the caller does not
const DefaultSignedURLTTL = time.Hour

// deleteBatchSize is the S3 DeleteObjects ceiling
const deleteBatchSize = 1000

// ManagerOptions contains the configuration for the artifact store
type ManagerOptions struct {
	Client  *s3.Client
	Logger  *zap.Logger
	Bucket  string
	Timeout time.Duration
}

// Manager persists synthesized audio to object storage and mints
// time-limited retrieval links
type Manager struct {
	ManagerOptions
	presigner *s3.PresignClient
}

// NewManager returns a new Manager over the given bucket
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.Bucket) == 0 {
		return nil, fmt.Errorf("empty Bucket is invalid")
	}
	if option.Timeout <= 0 {
		option.Timeout = time.Second * 30
	}
	return &Manager{
		ManagerOptions: option,
		presigner:      s3.NewPresignClient(option.Client),
	}, nil
}

var keyReplacer = strings.NewReplacer("/", "-", "\\", "-", " ", "_")

// Key builds the namespaced object key for a user's artifact:
// audio/{userID}/{uniqueID}-{filename}
func Key(userID, filename string) string {
	return fmt.Sprintf("%s/%s/%s-%s", audioPrefix, userID, uuid.New().String(), keyReplacer.Replace(filename))
}

// Store uploads the audio payload and returns its stable object key
func (m *Manager) Store(ctx context.Context, audio []byte, userID, filename, contentType string) (string, error) {
	key := Key(userID, filename)

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	if _, err := m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(audio),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(audio))),
	}); err != nil {
		m.Logger.Error("Unable to store artifact",
			zap.String("Key", key),
			zap.Error(err),
		)
		return "", fault.Wrap(err, fault.KindStorageError, "cannot persist synthesized audio")
	}
	return key, nil
}

// SignedURL mints a time-boxed retrieval link that forces a download with
// the original filename. ttl <= 0 falls back to DefaultSignedURLTTL.
func (m *Manager) SignedURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}

	req, err := m.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(m.Bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(AttachmentDisposition(filename)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		m.Logger.Error("Unable to sign retrieval URL",
			zap.String("Key", key),
			zap.Error(err),
		)
		return "", fault.Wrap(err, fault.KindSigningError, "cannot sign retrieval URL")
	}
	return req.URL, nil
}

// AttachmentDisposition renders the content-disposition header value used
// on signed retrieval links
func AttachmentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}

// Delete removes a single artifact
func (m *Manager) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	if _, err := m.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fault.Wrap(err, fault.KindStorageError, "cannot delete artifact")
	}
	return nil
}

// DeleteMany removes artifacts in batches, returning the keys confirmed
// deleted and per-object errors. Partial failure is expected: callers treat
// this as best-effort cleanup.
func (m *Manager) DeleteMany(ctx context.Context, keys []string) ([]string, []error) {
	deleted := make([]string, 0, len(keys))
	errs := make([]error, 0)

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		objects := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			objects = append(objects, types.ObjectIdentifier{
				Key: aws.String(key),
			})
		}

		out, err := m.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(m.Bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(false),
			},
		})
		if err != nil {
			errs = append(errs, fault.Wrap(err, fault.KindStorageError, "cannot delete artifact batch"))
			continue
		}
		for _, obj := range out.Deleted {
			deleted = append(deleted, aws.ToString(obj.Key))
		}
		for _, objErr := range out.Errors {
			errs = append(errs, fmt.Errorf("delete %s: %s", aws.ToString(objErr.Key), aws.ToString(objErr.Message)))
		}
	}

	return deleted, errs
}
