package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/hoard/pkg/worker"
)

var retryFlag string

var walkCmd = &cobra.Command{
	Use:   "walk <collection> [prefix]",
	Short: "Discover the files of a collection and schedule them for digestion",
	Long: `Walk the collection directory, or only the subtree at prefix, creating a
document for every file and folder. New and modified files are put on the
digest queue.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWalk,
}

var digestQueueCmd = &cobra.Command{
	Use:   "digestqueue [collection]",
	Short: "Schedule every undigested document",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDigestQueue,
}

var retryBrokenCmd = &cobra.Command{
	Use:   "retrybroken [collection]",
	Short: "Schedule broken documents for another attempt",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRetryBroken,
}

var restartJobsCmd = &cobra.Command{
	Use:   "restartjobs <queue>",
	Short: "Return started jobs of a queue to pending",
	Long: `Jobs whose worker failed or died stay started. This puts them back on
the queue so the next worker picks them up.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestartJobs,
}

var walkOCRCmd = &cobra.Command{
	Use:   "walkocr <collection> <tag>",
	Short: "Schedule the OCR output registered under tag for ingestion",
	Args:  cobra.ExactArgs(2),
	RunE:  runWalkOCR,
}

func init() {
	retryBrokenCmd.Flags().StringVar(&retryFlag, "flag", "", "Only retry documents with this broken flag")
}

func runWalk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.collection(ctx, args[0])
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}

	results, err := a.walker().Walk(ctx, c.Path, prefix, nil, c)
	if err != nil {
		return fmt.Errorf("walking %s: %w", c.Name, err)
	}
	created := 0
	for _, r := range results {
		if r.Created {
			created++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "walked %d documents, %d new\n", len(results), created)
	return nil
}

func runDigestQueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.collectionID(ctx, args)
	if err != nil {
		return err
	}
	n, err := worker.EnqueueUndigested(ctx, a.store, a.queue, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d documents\n", n)
	return nil
}

func runRetryBroken(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.collectionID(ctx, args)
	if err != nil {
		return err
	}
	n, err := worker.RetryBroken(ctx, a.store, a.queue, id, retryFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d broken documents\n", n)
	return nil
}

func runRestartJobs(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.queue.ResetStarted(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restarted %d jobs on %s\n", n, args[0])
	return nil
}

func runWalkOCR(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.collection(ctx, args[0])
	if err != nil {
		return err
	}
	n, err := a.ocr.Walk(ctx, c, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d ocr files\n", n)
	return nil
}
