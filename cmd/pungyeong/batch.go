package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/lewtec/pungyeong/annotation"
	"github.com/lewtec/pungyeong/internal/batch"
	"github.com/lewtec/pungyeong/internal/progress"
	"github.com/lewtec/pungyeong/internal/repository"
	"github.com/lewtec/pungyeong/internal/storage"
	"github.com/lewtec/pungyeong/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch [remote_dir]",
	Short: "Annotate every new image under a remote FTP directory",
	Long: `Lists the remote directory, skips files already stored, then downloads,
analyzes, uploads and records the rest on a pool of workers.

Interrupting the run stops queueing; items already in progress are finished.

Example:
  pungyeong batch /images/2025 -j 8 --limit 100
  pungyeong batch --schedule "0 0 3 * * *" --metrics-addr :9102`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.ValidateBatch(); err != nil {
			return err
		}
		remoteDir := config.FTP.ImageDir
		if len(args) == 1 {
			remoteDir = args[0]
		}
		if remoteDir == "" {
			return errors.New("no remote directory: pass one as argument or set FTP_IMAGE_DIR")
		}

		workers := config.Workers
		if cmd.Flags().Changed("jobs") {
			workers, _ = cmd.Flags().GetInt("jobs")
		}
		extensions, _ := cmd.Flags().GetStringSlice("ext")
		limit, _ := cmd.Flags().GetInt("limit")
		keepLocal, _ := cmd.Flags().GetBool("keep-local")
		recursive, _ := cmd.Flags().GetBool("recursive")
		schedule, _ := cmd.Flags().GetString("schedule")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx := cmd.Context()
		db, dialect, err := openDatabase(ctx, config)
		if err != nil {
			return err
		}
		defer db.Close()

		s3Config := storage.Config{
			Bucket:          config.S3.Bucket,
			Region:          config.S3.Region,
			AccessKeyID:     config.S3.AccessKeyID,
			SecretAccessKey: config.S3.SecretAccessKey,
			Endpoint:        config.S3.Endpoint,
			Prefix:          config.S3.Prefix,
		}
		s3Client, err := storage.NewS3Client(ctx, s3Config)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}

		client, generator, err := newAnnotationClient(ctx, config)
		if err != nil {
			return err
		}
		defer generator.Close()

		template, err := annotation.LoadPromptTemplate(config.Gemini.PromptFile)
		if err != nil {
			return err
		}

		staging := osfs.New(config.LocalDir)
		dial := transport.NewDialer(transport.Config{
			Host:     config.FTP.Host,
			Port:     config.FTP.Port,
			User:     config.FTP.User,
			Password: config.FTP.Password,
			Timeout:  config.FTP.Timeout,
		})

		orchestrator := &batch.Orchestrator{
			NewTransport: func(ctx context.Context) (batch.Transport, error) {
				return transport.NewClient(dial, staging), nil
			},
			Store:    repository.NewRecordRepository(db, dialect),
			Analyzer: client,
			Objects:  storage.NewUploader(s3Client, s3Config),
			Staging:  staging,
			Metrics:  batch.NewMetrics(prometheus.DefaultRegisterer),
		}
		opts := batch.Options{
			RemoteDir:      remoteDir,
			Extensions:     extensions,
			Recursive:      recursive,
			Workers:        workers,
			Limit:          limit,
			KeepLocal:      keepLocal,
			PromptTemplate: template,
			Model:          generator.ModelName(),
		}

		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}

		log.Printf("Remote directory: %s", remoteDir)
		log.Printf("Staging directory: %s", config.LocalDir)
		log.Printf("Log directory: %s", config.LogDir)
		log.Printf("Model: %s", opts.Model)
		log.Printf("Workers: %d", workers)

		logs := osfs.New(config.LogDir)
		runOnce := func(ctx context.Context) error {
			tracker := progress.NewTracker(progress.NewLogger(logs))
			orchestrator.Tracker = tracker
			result, err := orchestrator.Run(ctx, opts)
			if err != nil {
				return err
			}
			log.Printf("batch: listed %d, already stored %d, queued %d", result.Listed, result.AlreadyStored, result.Queued)
			log.Printf("batch: %s", tracker.Stats().Summary())
			return nil
		}

		if schedule == "" {
			return runOnce(ctx)
		}
		return runScheduled(ctx, schedule, runOnce)
	},
}

// runScheduled re-runs run on every tick of schedule until ctx is done.
// A tick that fires while the previous run is still going is skipped.
func runScheduled(ctx context.Context, schedule string, run func(context.Context) error) error {
	scheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	_, err := scheduler.AddFunc(schedule, func() {
		if err := run(ctx); err != nil {
			log.Printf("batch: scheduled run failed: %s", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	log.Printf("batch: scheduled with %q", schedule)
	scheduler.Start()
	<-ctx.Done()
	log.Printf("batch: waiting for the running batch to finish")
	<-scheduler.Stop().Done()
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Printf("Serving metrics on: %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Printf("metrics: %s", err)
	}
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("jobs", "j", 4, "Number of concurrent workers (default from batch.workers)")
	batchCmd.Flags().StringSlice("ext", []string{".jpg", ".jpeg", ".png"}, "File extensions to process")
	batchCmd.Flags().Int("limit", 0, "Process at most this many new files (0 means all)")
	batchCmd.Flags().Bool("keep-local", false, "Keep downloaded files in the staging directory")
	batchCmd.Flags().Bool("recursive", true, "Descend into subdirectories")
	batchCmd.Flags().String("schedule", "", "Cron expression with seconds; re-run the batch on every tick")
	batchCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
}
