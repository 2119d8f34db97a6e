package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/report"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func sampleResult() *model.OperationResult {
	started := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	return &model.OperationResult{
		RunID:         "run-1",
		Operation:     types.OperationExecuteReconfigure,
		Matched:       3,
		Succeeded:     1,
		Skipped:       1,
		Failed:        1,
		FailedTaskIDs: []types.TaskID{"task-3"},
		StartedAt:     started,
		FinishedAt:    started.Add(1500 * time.Millisecond),
	}
}

func TestObjectName(t *testing.T) {
	name := report.ObjectName("/reports/", types.OperationMarkToReconfigure, "run-1",
		time.Date(2025, 1, 10, 23, 30, 0, 0, time.UTC))
	gt.Value(t, name).Equal("reports/2025/01/10/MARK_TO_RECONFIGURE/run-1.json")
}

func TestWriterReport(t *testing.T) {
	var gotName string
	buf := &bufferCloser{}
	w := report.NewWriterWithOpener("reports", func(ctx context.Context, name string) io.WriteCloser {
		gotName = name
		return buf
	})

	gt.NoError(t, w.Report(context.Background(), sampleResult())).Required()
	gt.Value(t, gotName).Equal("reports/2025/01/10/EXECUTE_RECONFIGURE/run-1.json")
	gt.Bool(t, buf.closed).True()

	var doc map[string]any
	gt.NoError(t, json.Unmarshal(buf.Bytes(), &doc)).Required()
	gt.Value(t, doc["run_id"]).Equal(any("run-1"))
	gt.Value(t, doc["failed"]).Equal(any(float64(1)))
	gt.Value(t, doc["duration_ms"]).Equal(any(float64(1500)))
}

func TestCloudStorageReport(t *testing.T) {
	bucket := os.Getenv("TEST_REPORT_BUCKET")
	if bucket == "" {
		t.Skip("TEST_REPORT_BUCKET not set")
	}

	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = client.Close() })

	result := sampleResult()
	result.RunID = "test-" + time.Now().Format("150405.000000")
	w := report.NewCloudStorage(client, bucket, "docket-test")
	gt.NoError(t, w.Report(ctx, result)).Required()

	name := report.ObjectName("docket-test", result.Operation, result.RunID, result.StartedAt)
	t.Cleanup(func() { _ = client.Bucket(bucket).Object(name).Delete(ctx) })

	_, err = client.Bucket(bucket).Object(name).Attrs(ctx)
	gt.NoError(t, err)
}
