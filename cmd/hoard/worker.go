package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/worker"
)

var (
	stopOnError bool
	workers     int
	follow      bool
	jobLimit    int
	batchSize   int

	digestCommit bool
)

var workerCmd = &cobra.Command{
	Use:   "worker <queue>",
	Short: "Process jobs from a queue (digest, ocr or index)",
	Long: `Claim jobs from the named queue until it is empty, or until interrupted
with --follow. A failed job stays started until restartjobs is run; with -x
the worker puts it back and stops instead.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{queue.Digest, queue.OCR, queue.Index},
	RunE:      runWorker,
}

var digestCmd = &cobra.Command{
	Use:   "digest <document-id>",
	Short: "Digest one document and print its record",
	Long: `Digest one document and print the resulting record as JSON. With -c the
document is processed as a worker would: children are created and
scheduled, and the record is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runDigest,
}

func init() {
	workerCmd.Flags().BoolVarP(&stopOnError, "stop-on-error", "x", false, "Stop at the first failed job and leave it pending")
	workerCmd.Flags().IntVarP(&workers, "workers", "n", 1, "Number of concurrent workers")
	workerCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling once the queue is empty")
	workerCmd.Flags().IntVar(&jobLimit, "limit", 0, "Stop each worker after this many jobs (0 for no limit)")
	workerCmd.Flags().IntVar(&batchSize, "batch-size", worker.DefaultBatchSize, "Jobs per batch on the index queue")

	digestCmd.Flags().BoolVarP(&digestCommit, "commit", "c", false, "Store the record and create children")
}

func runWorker(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := openStore
	if name == queue.Digest {
		open = openPipeline
	}
	a, err := open()
	if err != nil {
		return err
	}
	defer a.Close()

	wc, err := a.workerConfig()
	if err != nil {
		return err
	}
	wc.StopOnFirstError = stopOnError
	wc.Follow = follow
	wc.Limit = jobLimit
	wc.BatchSize = batchSize
	if name == queue.Index {
		if wc.Indexer, err = a.indexer(); err != nil {
			return err
		}
	}

	res, err := worker.RunParallel(ctx, name, workers, func() *worker.Worker {
		return worker.New(wc)
	})
	logger.Info("queue drained", "queue", name, "done", res.Done, "failed", res.Failed)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runDigest(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid document id %q", args[0])
	}
	ctx := cmd.Context()
	a, err := openPipeline()
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if digestCommit {
		wc, err := a.workerConfig()
		if err != nil {
			return err
		}
		st, err := worker.New(wc).Digest(ctx, id)
		if err != nil {
			return err
		}
		return enc.Encode(st)
	}

	doc, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	rec, err := a.engine.Digest(ctx, doc)
	if err != nil {
		return err
	}
	return enc.Encode(rec)
}
