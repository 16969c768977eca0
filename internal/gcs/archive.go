package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ReportArchiver stores analysis results as JSON objects under
// reports/YYYY/MM/DD/<id>.json.
type ReportArchiver struct {
	storage StorageService
	bucket  string
}

// NewReportArchiver creates an archiver writing to bucket.
func NewReportArchiver(storage StorageService, bucket string) *ReportArchiver {
	return &ReportArchiver{storage: storage, bucket: bucket}
}

// ObjectName returns the object path for a report created at t.
func ObjectName(id string, t time.Time) string {
	return fmt.Sprintf("reports/%s/%s.json", t.UTC().Format("2006/01/02"), id)
}

// Archive marshals report and uploads it, returning its gs:// URI.
func (a *ReportArchiver) Archive(ctx context.Context, id string, createdAt time.Time, report any) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Archive: marshaling report %s: %w", id, err)
	}

	object := ObjectName(id, createdAt)
	if err := a.storage.UploadBytes(ctx, a.bucket, object, "application/json", data); err != nil {
		return "", fmt.Errorf("Archive: uploading report %s: %w", id, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}
