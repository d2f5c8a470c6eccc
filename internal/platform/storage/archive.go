package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/mediashop/api/internal/services"
)

// ObjectWriter stores one object. GCSWriter is the production implementation.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte, metadata map[string]string) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject creates the object only if it does not exist yet, so a replayed callback never
// overwrites the first copy.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte, metadata map[string]string) error {
	obj := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", object, err)
	}
	return nil
}

// CallbackArchive keeps every gateway callback as a JSON object for audit and dispute handling.
type CallbackArchive struct {
	writer ObjectWriter
	bucket string
}

// NewCallbackArchive stores callbacks in bucket.
func NewCallbackArchive(writer ObjectWriter, bucket string) (*CallbackArchive, error) {
	if writer == nil {
		return nil, errors.New("storage: object writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: callback archive bucket is required")
	}
	return &CallbackArchive{writer: writer, bucket: bucket}, nil
}

type archivedCallback struct {
	TxnRef     string            `json:"txnRef"`
	Outcome    string            `json:"outcome"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Fields     map[string]string `json:"fields"`
}

// ArchiveCallback writes record under callbacks/<date>/<txnRef>/.
func (a *CallbackArchive) ArchiveCallback(ctx context.Context, record services.CallbackRecord) error {
	object, err := CallbackObjectPath(record.TxnRef, record.Outcome, record.ReceivedAt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(archivedCallback{
		TxnRef:     record.TxnRef,
		Outcome:    string(record.Outcome),
		ReceivedAt: record.ReceivedAt.UTC(),
		Fields:     record.Fields,
	})
	if err != nil {
		return fmt.Errorf("storage: encode callback: %w", err)
	}
	return a.writer.WriteObject(ctx, a.bucket, object, "application/json", data, map[string]string{
		"txnRef":  record.TxnRef,
		"outcome": string(record.Outcome),
	})
}

// CallbackObjectPath builds callbacks/yyyy/mm/dd/<txnRef>/<unix-nanos>-<outcome>.json. Callbacks
// without a merchant reference, such as ones that failed signature checks, go under "unmatched".
func CallbackObjectPath(txnRef string, outcome services.ReconciliationOutcome, receivedAt time.Time) (string, error) {
	if receivedAt.IsZero() {
		return "", errors.New("storage: receivedAt is required")
	}
	ref := strings.TrimSpace(txnRef)
	if ref == "" {
		ref = "unmatched"
	}
	ref, err := validateSegment("txnRef", ref)
	if err != nil {
		return "", err
	}
	name := string(outcome)
	if name == "" {
		name = "received"
	}
	name, err = validateSegment("outcome", name)
	if err != nil {
		return "", err
	}
	receivedAt = receivedAt.UTC()
	return fmt.Sprintf("callbacks/%s/%s/%d-%s.json", receivedAt.Format("2006/01/02"), ref, receivedAt.UnixNano(), name), nil
}

func validateSegment(field, value string) (string, error) {
	if len(value) > 128 {
		return "", fmt.Errorf("storage: %s too long", field)
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("storage: %s contains invalid character %q", field, r)
		}
	}
	return value, nil
}
