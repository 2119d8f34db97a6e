package report

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// document is the JSON layout of a stored run report
type document struct {
	RunID         string    `json:"run_id"`
	Operation     string    `json:"operation"`
	Matched       int       `json:"matched"`
	Succeeded     int       `json:"succeeded"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	FailedTaskIDs []string  `json:"failed_task_ids"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	DurationMS    int64     `json:"duration_ms"`
}

func newDocument(r *model.OperationResult) document {
	ids := make([]string, len(r.FailedTaskIDs))
	for i, id := range r.FailedTaskIDs {
		ids[i] = string(id)
	}
	return document{
		RunID:         r.RunID,
		Operation:     string(r.Operation),
		Matched:       r.Matched,
		Succeeded:     r.Succeeded,
		Skipped:       r.Skipped,
		Failed:        r.Failed,
		FailedTaskIDs: ids,
		StartedAt:     r.StartedAt.UTC(),
		FinishedAt:    r.FinishedAt.UTC(),
		DurationMS:    r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}

// ObjectName returns where the report of a run is stored, e.g.
// "reports/2025/01/10/EXECUTE_RECONFIGURE/<run id>.json"
func ObjectName(prefix string, op types.OperationName, runID string, startedAt time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), startedAt.UTC().Format("2006/01/02"), string(op), runID+".json")
}

type openFunc func(ctx context.Context, name string) io.WriteCloser

// Writer stores every run report as a JSON object in Cloud Storage
type Writer struct {
	prefix string
	open   openFunc
}

var _ interfaces.OperationReporter = &Writer{}

// NewCloudStorage writes reports into bucket under prefix
func NewCloudStorage(client *storage.Client, bucket, prefix string) *Writer {
	handle := client.Bucket(bucket)
	return &Writer{
		prefix: prefix,
		open: func(ctx context.Context, name string) io.WriteCloser {
			w := handle.Object(name).NewWriter(ctx)
			w.ContentType = "application/json"
			return w
		},
	}
}

func (x *Writer) Report(ctx context.Context, result *model.OperationResult) error {
	name := ObjectName(x.prefix, result.Operation, result.RunID, result.StartedAt)

	w := x.open(ctx, name)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newDocument(result)); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to encode operation report", goerr.V("object", name))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to store operation report", goerr.V("object", name))
	}

	logging.From(ctx).Info("operation report stored", "object", name, "run_id", result.RunID)
	return nil
}
