package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"audit-aggregator/internal/aggregate"
	"audit-aggregator/internal/config"
	"audit-aggregator/internal/metrics"
	"audit-aggregator/internal/pipeline"
	"audit-aggregator/internal/policy"
	"audit-aggregator/internal/snapshot"
	"audit-aggregator/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type aggregateFlags struct {
	output       string
	markdown     string
	snapshot     string
	verify       bool
	upload       bool
	noRecovery   bool
	printMetrics bool
}

func newAggregateCmd() *cobra.Command {
	var f aggregateFlags

	cmd := &cobra.Command{
		Use:   "aggregate <log-dir> [source...]",
		Short: "Parse every log under <log-dir> and write the aggregate report",
		Long: `Parse every matching log file under <log-dir> (or only the listed sources,
relative to <log-dir>) and write the JSON report to --output.

Partial parse failures are reported, not fatal. The command fails only when no
input could be read, or when --verify is given and the snapshot does not verify.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(cmd, args, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "report JSON path (required)")
	fl.StringVar(&f.markdown, "markdown", "", "also render the report as markdown to this path")
	fl.StringVar(&f.snapshot, "snapshot", "", "write a checksummed snapshot of the report to this path")
	fl.BoolVar(&f.verify, "verify", false, "re-load the snapshot and validate the report after writing")
	fl.String("archive-dir", "", "archive normalized events as JSONL.gz under this directory")
	fl.BoolVar(&f.upload, "upload", false, "publish report artifacts to S3 (requires s3.bucket)")
	fl.String("policy", "", "YAML policy file (synonyms, cross-reference rules)")
	fl.BoolVar(&f.noRecovery, "no-recovery", false, "disable fallback extraction for malformed lines")
	fl.BoolVar(&f.printMetrics, "print-metrics", false, "print run counters to stdout when done")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runAggregate(cmd *cobra.Command, args []string, f aggregateFlags) error {
	cfg, err := setup(cmd,
		flagBinding{"archive.dir", "archive-dir"},
		flagBinding{"policy.file", "policy"},
	)
	if err != nil {
		return err
	}
	if f.noRecovery {
		cfg.Recovery = false
	}
	if f.verify && f.snapshot == "" {
		f.snapshot = f.output + ".snapshot.json"
	}
	if f.upload && !cfg.UploadEnabled() {
		return fmt.Errorf("--upload requires s3.bucket (AUDITAGG_S3_BUCKET)")
	}

	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	p := pipeline.New(cfg, pol, m)
	p.Exclude = []string{f.output, f.markdown, f.snapshot}

	root := args[0]
	var res *pipeline.Result
	if len(args) > 1 {
		res, err = p.Run(ctx, pipeline.Explicit(root, args[1:]))
	} else {
		res, err = p.AggregateDir(ctx, root)
	}
	if err != nil {
		return err
	}
	logger := log.With().Str("run_id", res.Run.ID).Logger()

	// ====================================================================
	// 출력
	// ====================================================================
	reportJSON, err := res.Report.JSON()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := writeOutput(f.output, reportJSON); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Info().Str("path", f.output).Msg("report written")

	artifacts := []worker.Artifact{{Name: "report.json", Body: reportJSON, ContentType: "application/json"}}

	if f.markdown != "" {
		md := []byte(res.Report.Markdown())
		if err := writeOutput(f.markdown, md); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
		logger.Info().Str("path", f.markdown).Msg("markdown written")
		artifacts = append(artifacts, worker.Artifact{Name: "report.md", Body: md, ContentType: "text/markdown; charset=utf-8"})
	}

	if f.snapshot != "" {
		snap, err := snapshot.Create(f.snapshot, res.Report)
		if err != nil {
			// 쓰기 실패는 검증 실패(exit 2)가 아니다
			return fmt.Errorf("write snapshot: %v", err)
		}
		logger.Info().Str("path", f.snapshot).Str("checksum", snap.Metadata.Checksum).Msg("snapshot written")

		if f.verify {
			if err := verifySnapshot(f.snapshot, snap.Metadata.Checksum); err != nil {
				logger.Error().Err(err).Str("path", f.snapshot).Msg("snapshot verification failed")
				return err
			}
			logger.Info().Str("path", f.snapshot).Msg("snapshot verified")
		}

		if body, err := os.ReadFile(f.snapshot); err == nil {
			artifacts = append(artifacts, worker.Artifact{Name: "snapshot.json", Body: body, ContentType: "application/json"})
		}
	}

	// archive / publish 실패는 보고서 결과를 바꾸지 않으므로 로그만 남긴다
	if cfg.ArchiveDir != "" {
		archiveEvents(cfg, m, res)
	}
	if f.upload {
		publish(ctx, cfg, m, res.Run.ID, artifacts)
	}

	if f.printMetrics {
		fmt.Fprint(cmd.OutOrStdout(), m.String())
	}
	return nil
}

// verifySnapshot 은 방금 쓴 스냅샷을 다시 읽어서 checksum 과 보고서 불변식을 확인한다.
func verifySnapshot(path, checksum string) error {
	var rep aggregate.Report
	meta, err := snapshot.LoadInto(path, &rep)
	if err != nil {
		return err
	}
	if meta.Checksum != checksum {
		return &snapshot.ValidationError{Path: path, Reason: "checksum changed after write"}
	}
	return aggregate.Validate(&rep)
}

func archiveEvents(cfg config.Config, m *metrics.Metrics, res *pipeline.Result) {
	a := worker.NewArchive(cfg.ArchiveDir, cfg.InstanceID, cfg.Retention(), m)

	path, err := a.Write(res.Run.ID, res.Run.Events())
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.ArchiveDir).Msg("archive write failed")
		return
	}
	log.Info().Str("path", path).Int("events", res.Report.TotalEvents).Msg("events archived")

	if n, err := a.Prune(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.ArchiveDir).Msg("archive prune failed")
	} else if n > 0 {
		log.Info().Int("pruned", n).Msg("expired archives removed")
	}
}

func publish(ctx context.Context, cfg config.Config, m *metrics.Metrics, runID string, artifacts []worker.Artifact) {
	client, err := worker.NewS3Client(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("s3 client init failed, artifacts not published")
		return
	}
	uploader := worker.NewS3Uploader(cfg, m, client)

	spool, err := worker.NewSpool(cfg, m, uploader)
	if err != nil {
		// spool 없이도 업로드는 시도한다
		log.Warn().Err(err).Str("dir", cfg.SpoolDir).Msg("spool unavailable")
		spool = nil
	}

	res, err := worker.NewPublisher(uploader, spool, cfg.Prefix).Publish(ctx, runID, artifacts...)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("publish incomplete")
	}
	log.Info().
		Int("uploaded", len(res.Uploaded)).
		Int("spooled", len(res.Spooled)).
		Str("bucket", cfg.Bucket).
		Msg("publish finished")
}
