package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/qbucket/pkg/planner"
	"github.com/3leaps/qbucket/pkg/provider"
)

func samplePlan() *planner.Plan {
	return &planner.Plan{
		SourceParentID: "src",
		BucketParentID: "dst",
		Prefix:         "Q",
		Moves: []planner.Move{
			{FileID: "f1", Name: "Q123456-Alpha", Key: 123456, OldParentID: "src", NewParentID: "b1", BucketName: "Q123000-Q123999"},
			{FileID: "f2", Name: "Q124001-Gamma", Key: 124001, OldParentID: "src", NewParentID: "pending:Q124000-Q124999", BucketName: "Q124000-Q124999", BucketPending: true},
		},
		Scanned:        4,
		Matched:        3,
		Skipped:        1,
		BucketsCreated: 1,
	}
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	assert.NotNil(t, w)
	assert.Equal(t, "run-123", w.runID)
	assert.Equal(t, "gdrive", w.provider)
}

func TestJSONLWriter_WritePlan(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	err := w.WritePlan(context.Background(), NewPlanRecord(samplePlan()))
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypePlan, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.Equal(t, "gdrive", record.Provider)
	assert.False(t, record.TS.IsZero())

	var plan PlanRecord
	require.NoError(t, json.Unmarshal(record.Data, &plan))
	assert.Equal(t, "src", plan.SourceParentID)
	assert.Equal(t, 4, plan.Scanned)
	assert.Equal(t, 1, plan.Skipped)
	require.Len(t, plan.Moves, 2)
	assert.Equal(t, StatusPlanned, plan.Moves[0].Status)
	assert.Equal(t, "Q123000-Q123999", plan.Moves[0].Bucket)
	assert.True(t, plan.Moves[1].BucketPending)
}

func TestJSONLWriter_WriteMove(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	err := w.WriteMove(context.Background(), NewMoveRecord(samplePlan().Moves[0], StatusMoved))
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeMove, record.Type)

	var mv MoveRecord
	require.NoError(t, json.Unmarshal(record.Data, &mv))
	assert.Equal(t, MoveRecord{
		FileID:      "f1",
		Name:        "Q123456-Alpha",
		Key:         123456,
		OldParentID: "src",
		NewParentID: "b1",
		Bucket:      "Q123000-Q123999",
		Status:      StatusMoved,
	}, mv)
}

func TestJSONLWriter_WriteBuckets(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "local")

	err := w.WriteBuckets(context.Background(), []BucketRecord{
		{Name: "Q123000-Q123999", ID: "b1"},
		{Name: "Q124000-Q124999", ID: "b2"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		var record Record
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, TypeBucket, record.Type)
		var bk BucketRecord
		require.NoError(t, json.Unmarshal(record.Data, &bk))
		assert.Equal(t, fmt.Sprintf("b%d", i+1), bk.ID)
	}
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	perr := &provider.ProviderError{Op: "MoveFolder", Provider: provider.ProviderGDrive, FileID: "f1", StatusCode: 403, Err: provider.ErrAccessDenied}
	err := w.WriteError(context.Background(), NewErrorRecord(perr))
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeError, record.Type)

	var errData ErrorRecord
	require.NoError(t, json.Unmarshal(record.Data, &errData))
	assert.Equal(t, ErrCodeAccessDenied, errData.Code)
	assert.Equal(t, "f1", errData.FileID)
	assert.Equal(t, 403, errData.Status)
	assert.Contains(t, errData.Message, "MoveFolder")
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	sum := &SummaryRecord{
		Planned:       3,
		Moved:         2,
		Duration:      30 * time.Second,
		DurationHuman: "30s",
		Errors:        1,
	}

	require.NoError(t, w.WriteSummary(context.Background(), sum))

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeSummary, record.Type)

	var sumData SummaryRecord
	require.NoError(t, json.Unmarshal(record.Data, &sumData))
	assert.Equal(t, *sum, sumData)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, ErrCodeCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrCodeTimeout},
		{&provider.ProviderError{Err: provider.ErrThrottled}, ErrCodeThrottled},
		{&provider.ProviderError{Err: provider.ErrNotFound}, ErrCodeNotFound},
		{&provider.ProviderError{Err: provider.ErrAccessDenied}, ErrCodeAccessDenied},
		{&provider.ProviderError{Err: provider.ErrInvalidCredentials}, ErrCodeAuth},
		{&provider.ProviderError{Err: provider.ErrProviderUnavailable}, ErrCodeUnavailable},
		{errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	plan := samplePlan()
	require.NoError(t, w.WriteMove(context.Background(), NewMoveRecord(plan.Moves[0], StatusMoved)))
	require.NoError(t, w.WriteMove(context.Background(), NewMoveRecord(plan.Moves[1], StatusMoved)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	for _, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	require.NoError(t, w.Close())

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				mv := &MoveRecord{Name: "Q123456", Key: writerID*writesPerWriter + j, Status: StatusMoved}
				_ = w.WriteMove(context.Background(), mv)
			}
		}(i)
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteSummary(ctx, &SummaryRecord{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "run-123", "gdrive")

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run-123", "gdrive")

	err := w.WritePlan(context.Background(), NewPlanRecord(samplePlan()))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err = json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypePlan, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "run-123", "gdrive")

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call, returning
// nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	errRec := ErrorRecord{
		Code:    ErrCodeInternal,
		Message: "Something went wrong",
	}

	data, err := json.Marshal(errRec)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "file_id")
	assert.NotContains(t, string(data), "status")
	assert.NotContains(t, string(data), "details")
}

func BenchmarkJSONLWriter_WriteMove(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run-123", "gdrive")
	mv := NewMoveRecord(samplePlan().Moves[0], StatusMoved)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteMove(ctx, mv)
	}
}

func TestJSONLWriter_WritePreflight(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "gdrive")

	pre := &PreflightRecord{Mode: "read-safe", Results: []PreflightCheckResult{
		{Capability: "source.list", Allowed: true, Method: `ListFolders(parent="src",pageSize=1)`},
		{Capability: "bucket.list", Allowed: false, ErrorCode: ErrCodeNotFound, Detail: "gone"},
	}}
	require.NoError(t, w.WritePreflight(context.Background(), pre))

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypePreflight, record.Type)

	var got PreflightRecord
	require.NoError(t, json.Unmarshal(record.Data, &got))
	assert.Equal(t, *pre, got)
}
