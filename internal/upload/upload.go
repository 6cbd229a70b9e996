// Package upload streams captured artifacts (screenshots, HARs,
// generated reports) to S3, mirroring the persisted-state layout spec
// §6 describes: ISO-8601 timestamp with colons replaced by dashes, a
// sanitized host component, one of screenshots/pagecache/reports.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"browsercontrol/internal/logging"
)

// Kind is the artifact category, mapping to spec §6's three local
// directories.
type Kind string

const (
	KindScreenshot Kind = "screenshots"
	KindPageCache  Kind = "pagecache"
	KindReport     Kind = "reports"
)

// Manager streams artifact bytes to S3 via the multipart uploader.
type Manager struct {
	uploader *s3manager.Uploader
	bucket   string
}

// NewManager builds a Manager against bucket in region. Construction
// never contacts AWS; failures surface on first Upload call.
func NewManager(region, bucket string) *Manager {
	sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(region)}))
	return &Manager{uploader: s3manager.NewUploader(sess), bucket: bucket}
}

// Upload streams data under kind/host-timestamp.ext, following spec
// §6's naming rule. It never blocks a tool response waiting on
// confirmation past the call itself, and swallows errors into a log
// line so an artifact-store outage cannot fail a tool invocation.
func (m *Manager) Upload(ctx context.Context, kind, host, ext string, data []byte) {
	key := objectKey(Kind(kind), host, ext)
	_, err := m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(ext)),
	})
	if err != nil {
		logging.Warn("artifact upload failed", zap.String("key", key), zap.Error(err))
		return
	}
	logging.Info("artifact uploaded", zap.String("key", key))
}

func objectKey(kind Kind, host, ext string) string {
	stamp := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("%s/%s-%s.%s", kind, sanitizeHost(host), stamp, ext)
}

func sanitizeHost(host string) string {
	var b strings.Builder
	for _, r := range host {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown-host"
	}
	return b.String()
}

func contentTypeFor(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "har":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
