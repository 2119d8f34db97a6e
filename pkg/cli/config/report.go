package config

import (
	"context"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/service/report"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Report holds CLI flags for storing batch operation reports
type Report struct {
	bucket string
	prefix string
}

func (x *Report) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "report-bucket",
			Usage:       "Cloud Storage bucket receiving batch operation reports",
			Category:    "Report",
			Sources:     cli.EnvVars("DOCKET_REPORT_BUCKET"),
			Destination: &x.bucket,
		},
		&cli.StringFlag{
			Name:        "report-prefix",
			Usage:       "Object name prefix of batch operation reports",
			Value:       "operations/",
			Category:    "Report",
			Sources:     cli.EnvVars("DOCKET_REPORT_PREFIX"),
			Destination: &x.prefix,
		},
	}
}

func (x Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("bucket", x.bucket),
		slog.String("prefix", x.prefix),
	)
}

// Configure returns nil when no bucket is set. The returned function closes
// the storage client.
func (x *Report) Configure(ctx context.Context) (interfaces.OperationReporter, func(), error) {
	if x.bucket == "" {
		return nil, func() {}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create storage client")
	}
	closer := func() {
		if err := client.Close(); err != nil {
			logging.Default().Error("failed to close storage client", "error", err.Error())
		}
	}
	logging.Default().Info("Batch operation reports enabled", "bucket", x.bucket, "prefix", x.prefix)
	return report.NewCloudStorage(client, x.bucket, x.prefix), closer, nil
}
