package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/google/uuid"
	"github.com/lewtec/pungyeong/annotation"
	"github.com/lewtec/pungyeong/internal/domain"
	"github.com/lewtec/pungyeong/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Transport is one session with the remote file source.
type Transport interface {
	List(ctx context.Context, remoteDir string, extensions []string, recursive bool) ([]string, error)
	Download(ctx context.Context, remoteDir, relPath string) (string, error)
	Close() error
}

// TransportFactory opens a new session. Each worker owns one.
type TransportFactory func(ctx context.Context) (Transport, error)

type ObjectStore interface {
	UploadFile(ctx context.Context, fs billy.Filesystem, name, storageKey, originalName string, cleanup bool) (*storage.UploadInfo, error)
	Delete(ctx context.Context, key string) error
}

type Recorder interface {
	RecordOutcome(workerID int, filename string, status domain.OutcomeStatus, fields domain.Fields)
}

type Stage string

const (
	StageList     Stage = "list"
	StageDownload Stage = "download"
	StageHash     Stage = "hash"
	StageAnalyze  Stage = "analyze"
	StageUpload   Stage = "upload"
	StagePersist  Stage = "persist"
)

// StageError ties an item failure to the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Options struct {
	RemoteDir  string
	Extensions []string
	Recursive  bool
	Workers    int
	// Limit caps the number of new files queued; 0 means no limit.
	Limit          int
	KeepLocal      bool
	PromptTemplate string
	Model          string
}

type RunResult struct {
	Listed        int
	AlreadyStored int
	Queued        int
	Success       int
	Failed        int
	Skipped       int
	Elapsed       time.Duration
}

type Orchestrator struct {
	NewTransport TransportFactory
	Store        domain.RecordStore
	Analyzer     annotation.Analyzer
	Objects      ObjectStore
	Tracker      Recorder
	Staging      billy.Filesystem
	Metrics      *Metrics
}

type counters struct {
	success, failed, skipped atomic.Int64
}

// Run lists the remote directory, drops what is already stored and processes
// the rest on a fixed pool of workers. Item failures are logged and never
// abort the run; only setup failures are returned. Cancelling ctx stops
// queueing new items while items already in a worker run to completion.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunResult, error) {
	start := time.Now()
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	lister, err := o.NewTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("while opening remote session: %w", err)
	}
	listStart := time.Now()
	paths, err := lister.List(ctx, opts.RemoteDir, opts.Extensions, opts.Recursive)
	lister.Close()
	if err != nil {
		return nil, &StageError{Stage: StageList, Err: err}
	}
	o.Metrics.observe(StageList, listStart)
	log.Printf("batch: %d files listed under %s", len(paths), opts.RemoteDir)

	result := &RunResult{Listed: len(paths)}
	existing, err := o.Store.BatchFilterExisting(ctx, paths, opts.RemoteDir)
	if err != nil {
		log.Printf("batch: WARNING: batch existence check failed, relying on per-file checks: %s", err)
		existing = nil
	}
	queue := make([]domain.ImageItem, 0, len(paths))
	for _, p := range paths {
		if _, ok := existing[p]; ok {
			result.AlreadyStored++
			continue
		}
		if opts.Limit > 0 && len(queue) >= opts.Limit {
			continue
		}
		queue = append(queue, domain.ImageItem{RelPath: p, RemoteDir: opts.RemoteDir})
	}
	result.Queued = len(queue)
	if setter, ok := o.Tracker.(interface{ SetTotal(int) }); ok {
		setter.SetTotal(len(queue))
	}
	log.Printf("batch: %d already stored, %d queued on %d workers", result.AlreadyStored, len(queue), workers)

	items := make(chan domain.ImageItem)
	var c counters
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			o.worker(ctx, workerID, opts, items, &c)
		}(i)
	}

feed:
	for _, item := range queue {
		if ctx.Err() != nil {
			log.Printf("batch: interrupted, no further items will be started")
			break
		}
		select {
		case <-ctx.Done():
			log.Printf("batch: interrupted, no further items will be started")
			break feed
		case items <- item:
		}
	}
	close(items)
	wg.Wait()

	result.Success = int(c.success.Load())
	result.Failed = int(c.failed.Load())
	result.Skipped = int(c.skipped.Load())
	result.Elapsed = time.Since(start)
	return result, nil
}

func (o *Orchestrator) worker(ctx context.Context, workerID int, opts Options, items <-chan domain.ImageItem, c *counters) {
	// in-flight items finish even when the run is interrupted
	itemCtx := context.WithoutCancel(ctx)
	var session Transport
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	for item := range items {
		o.Metrics.enter()
		if session == nil {
			s, err := o.NewTransport(itemCtx)
			if err != nil {
				o.fail(workerID, &item, &StageError{Stage: StageDownload, Err: err}, c)
				o.Metrics.leave()
				continue
			}
			session = s
		}
		status, fields, err := o.process(itemCtx, workerID, session, &item, opts)
		switch {
		case err != nil:
			o.fail(workerID, &item, err, c)
		case status == domain.StatusSkipped:
			c.skipped.Add(1)
			o.Metrics.outcome(string(status))
			log.Printf("batch: [Worker %d] skipped %s: %v", workerID, item.RelPath, fields["reason"])
			o.Tracker.RecordOutcome(workerID, item.RelPath, status, fields)
		default:
			c.success.Add(1)
			o.Metrics.outcome(string(status))
			log.Printf("batch: [Worker %d] done %s (id %v)", workerID, item.RelPath, fields["file_info_id"])
			o.Tracker.RecordOutcome(workerID, item.RelPath, status, fields)
		}
		o.Metrics.leave()
	}
}

func (o *Orchestrator) fail(workerID int, item *domain.ImageItem, err error, c *counters) {
	c.failed.Add(1)
	o.Metrics.outcome(string(domain.StatusFailed))
	log.Printf("batch: [Worker %d] failed %s: %s", workerID, item.RelPath, err)
	fields := domain.Fields{"error": err.Error(), "remote_path": item.FullPath()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		fields["stage"] = stageErr.Stage
	}
	if reason := annotation.ReasonOf(err); reason != "" {
		fields["reason"] = reason
	}
	if item.Hash != "" {
		fields["file_hash"] = item.Hash
	}
	o.Tracker.RecordOutcome(workerID, item.RelPath, domain.StatusFailed, fields)
}

// process runs one item through download, hash, dedup, analyze, upload and persist.
func (o *Orchestrator) process(ctx context.Context, workerID int, session Transport, item *domain.ImageItem, opts Options) (domain.OutcomeStatus, domain.Fields, error) {
	stageStart := time.Now()
	local, err := session.Download(ctx, item.RemoteDir, item.RelPath)
	if err != nil {
		return "", nil, &StageError{Stage: StageDownload, Err: err}
	}
	o.Metrics.observe(StageDownload, stageStart)
	defer func() {
		if opts.KeepLocal {
			return
		}
		if _, err := o.Staging.Stat(local); err == nil {
			o.Staging.Remove(local)
		}
	}()

	stageStart = time.Now()
	item.Hash, err = annotation.HashFile(o.Staging, local)
	if err != nil {
		return "", nil, &StageError{Stage: StageHash, Err: err}
	}

	var meta *annotation.ImageMetadata
	var dup *domain.StoredRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meta, err = annotation.ExtractMetadata(o.Staging, local)
		return err
	})
	g.Go(func() error {
		var err error
		dup, err = o.Store.IsDuplicateByPath(gctx, item.FullPath(), item.Hash)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", nil, &StageError{Stage: StageHash, Err: err}
	}
	o.Metrics.observe(StageHash, stageStart)
	if dup != nil {
		return domain.StatusSkipped, domain.Fields{"reason": "duplicate", "record_id": dup.ID, "file_hash": item.Hash}, nil
	}
	item.Size, item.Width, item.Height, item.Format = meta.FileSize, meta.Width, meta.Height, meta.Format

	stageStart = time.Now()
	data, err := readAll(o.Staging, local)
	if err != nil {
		return "", nil, &StageError{Stage: StageAnalyze, Err: err}
	}
	result, err := o.Analyzer.Analyze(ctx, &annotation.ImageRequest{
		Data:           data,
		MIMEType:       annotation.MIMEType(meta.Format),
		Metadata:       meta,
		PromptTemplate: opts.PromptTemplate,
	})
	if err != nil {
		return "", nil, &StageError{Stage: StageAnalyze, Err: err}
	}
	o.Metrics.observe(StageAnalyze, stageStart)

	stageStart = time.Now()
	keyUUID, err := uuid.NewV7()
	if err != nil {
		return "", nil, &StageError{Stage: StageUpload, Err: err}
	}
	storageKey := keyUUID.String()
	upload, err := o.Objects.UploadFile(ctx, o.Staging, local, storageKey, item.Filename(), !opts.KeepLocal)
	if err != nil {
		return "", nil, &StageError{Stage: StageUpload, Err: err}
	}
	o.Metrics.observe(StageUpload, stageStart)

	stageStart = time.Now()
	annotationJSON, err := json.Marshal(result)
	if err != nil {
		return "", nil, &StageError{Stage: StagePersist, Err: err}
	}
	rec := &domain.NewRecord{
		StorageKey: storageKey,
		FileHash:   item.Hash,
		Status:     domain.RecordOK,
		Storage: domain.RawStorage{
			Original: domain.OriginalLocation{FilePath: item.FullPath(), Filename: item.Filename(), FileSize: item.Size},
			S3:       domain.ObjectLocation{Bucket: upload.Bucket, Key: upload.Key, URI: upload.URI, UploadTimestamp: upload.UploadedAt},
		},
		Meta: domain.RawMeta{
			FileInfo: domain.FileInfo{
				FileName: item.Filename(),
				Width:    item.Width,
				Height:   item.Height,
				Format:   item.Format,
				FileSize: item.Size,
			},
			ProcessedAt: time.Now().UTC(),
			WorkerID:    workerID,
			Model:       opts.Model,
		},
		Annotation: annotationJSON,
	}
	commit, err := o.Store.CommitRecord(ctx, rec)
	if err != nil {
		return "", nil, &StageError{Stage: StagePersist, Err: err}
	}
	o.Metrics.observe(StagePersist, stageStart)
	if !commit.Inserted {
		// another writer stored the same (path, hash) first
		if err := o.Objects.Delete(ctx, upload.Key); err != nil {
			log.Printf("batch: [Worker %d] while removing orphan object %s: %s", workerID, upload.Key, err)
		}
		return domain.StatusSkipped, domain.Fields{"reason": "duplicate", "file_hash": item.Hash}, nil
	}

	return domain.StatusSuccess, domain.Fields{
		"record_id":    commit.RecordID,
		"s3_key":       storageKey,
		"object_key":   upload.Key,
		"file_info_id": commit.FileInfoID,
		"file_hash":    item.Hash,
	}, nil
}

func readAll(fs billy.Filesystem, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
