package s3

// This file contains the streaming upload path: single PutObject for objects
// that fit in one part, multipart upload otherwise.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// abortTimeout bounds the cleanup of a failed multipart upload. It runs on a
// fresh context so a cancelled caller still aborts.
const abortTimeout = 30 * time.Second

// Write streams r to key.
//
// The first part is read into memory; if the stream ends within it the
// object is sent with PutObject. Otherwise a multipart upload is started
// and the stream is sent part by part, holding at most one part in memory.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - key: Destination object key
//   - r: Byte stream; its errors are returned unchanged
//   - expectedLength: Declared size, used to size the first buffer
//   - info: Content type and file name for the object headers
//
// Returns:
//   - target.WriteResult: Key and number of bytes stored
//   - error: The stream's error, or *target.WriteError for S3 failures
func (s *S3Target) Write(ctx context.Context, key string, r io.Reader, expectedLength int64, info target.ObjectInfo) (target.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return target.WriteResult{}, err
	}

	src := target.NewSourceReader(r)

	first := make([]byte, firstBufferSize(expectedLength, s.partSize))
	n, err := io.ReadFull(src, first)
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		if err := s.putObject(ctx, key, first[:n], info); err != nil {
			return target.WriteResult{}, err
		}
		return target.WriteResult{Key: key, Bytes: int64(n)}, nil
	case err != nil:
		return target.WriteResult{}, src.Classify(key, "read", err)
	}

	total, err := s.multipartUpload(ctx, key, src, first[:n], info)
	if err != nil {
		return target.WriteResult{}, err
	}
	return target.WriteResult{Key: key, Bytes: total}, nil
}

// firstBufferSize reads one byte past the declared size so that a stream
// ending exactly there is recognised without a second read.
func firstBufferSize(expectedLength, partSize int64) int64 {
	if expectedLength >= 0 && expectedLength < partSize {
		return expectedLength + 1
	}
	return partSize
}

func (s *S3Target) putObject(ctx context.Context, key string, data []byte, info target.ObjectInfo) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	applyObjectInfo(info, &input.ContentType, &input.ContentDisposition)

	start := time.Now()
	_, err := s.client.PutObject(ctx, input)
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		return target.WrapWriteError(key, "PutObject", err)
	}
	s.metrics.RecordBytes("PutObject", int64(len(data)))
	return nil
}

// multipartUpload uploads pending followed by the rest of src. On any failure
// the upload is aborted.
func (s *S3Target) multipartUpload(ctx context.Context, key string, src *target.SourceReader, pending []byte, info target.ObjectInfo) (total int64, err error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	applyObjectInfo(info, &input.ContentType, &input.ContentDisposition)

	start := time.Now()
	created, err := s.client.CreateMultipartUpload(ctx, input)
	s.metrics.ObserveOperation("CreateMultipartUpload", time.Since(start), err)
	if err != nil {
		return 0, target.WrapWriteError(key, "CreateMultipartUpload", err)
	}
	uploadID := aws.ToString(created.UploadId)
	s.metrics.RecordMultipartUpload("initiated")

	defer func() {
		if err != nil {
			s.abortMultipartUpload(ctx, key, uploadID)
		}
	}()

	buf := make([]byte, s.partSize)
	filled := copy(buf, pending)
	var parts []types.CompletedPart

	for partNumber := int32(1); ; partNumber++ {
		n, rerr := io.ReadFull(src, buf[filled:])
		filled += n

		last := errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF)
		if rerr != nil && !last {
			return 0, src.Classify(key, "read", rerr)
		}

		if filled > 0 {
			part, err := s.uploadPart(ctx, key, uploadID, partNumber, buf[:filled])
			if err != nil {
				return 0, err
			}
			parts = append(parts, part)
			total += int64(filled)
		}

		if last {
			break
		}
		filled = 0
	}

	start = time.Now()
	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	s.metrics.ObserveOperation("CompleteMultipartUpload", time.Since(start), err)
	if err != nil {
		return 0, target.WrapWriteError(key, "CompleteMultipartUpload", err)
	}
	s.metrics.RecordMultipartUpload("completed")

	return total, nil
}

func (s *S3Target) uploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (types.CompletedPart, error) {
	start := time.Now()
	result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	s.metrics.ObserveOperation("UploadPart", time.Since(start), err)
	if err != nil {
		return types.CompletedPart{}, target.WrapWriteError(key, fmt.Sprintf("UploadPart %d", partNumber), err)
	}
	s.metrics.RecordBytes("UploadPart", int64(len(data)))

	return types.CompletedPart{
		ETag:       result.ETag,
		PartNumber: aws.Int32(partNumber),
	}, nil
}

// abortMultipartUpload is best effort: a leaked upload only costs storage
// until a bucket lifecycle rule reaps it, never a visible partial object.
func (s *S3Target) abortMultipartUpload(ctx context.Context, key, uploadID string) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	s.metrics.ObserveOperation("AbortMultipartUpload", time.Since(start), err)
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			logger.Warn("Failed to abort multipart upload: key=%s upload_id=%s error=%v", key, uploadID, err)
		}
		return
	}
	s.metrics.RecordMultipartUpload("aborted")
}

func applyObjectInfo(info target.ObjectInfo, contentType, disposition **string) {
	if info.ContentType != "" {
		*contentType = aws.String(info.ContentType)
	}
	if info.FileName != "" {
		*disposition = aws.String(ContentDisposition(info.FileName))
	}
}

// ContentDisposition returns `inline; filename="<name>"` with the name
// percent-encoded the way the application's own S3 store does it.
func ContentDisposition(name string) string {
	return `inline; filename="` + encodeURI(name) + `"`
}

// encodeURI percent-encodes every byte except ASCII letters, digits and
// "-_.~" plus the reserved set "~@#$&()*!+=:;,.?/'".
func encodeURI(s string) string {
	const safe = "-_.~@#$&()*!+=:;,?/'"
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte(safe, c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
		}
	}
	return b.String()
}
