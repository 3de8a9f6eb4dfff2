package s3

import "time"

// S3Metrics receives S3 operation observations.
//
// pkg/metrics provides the Prometheus implementation. A nil S3Metrics in
// S3TargetConfig selects noopMetrics.
type S3Metrics interface {
	// ObserveOperation records one S3 API call (PutObject, UploadPart, ...).
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes uploaded by an operation.
	RecordBytes(operation string, bytes int64)

	// RecordMultipartUpload records a multipart lifecycle event:
	// "initiated", "completed" or "aborted".
	RecordMultipartUpload(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordMultipartUpload(string)                  {}
