package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/disiqueira/gotree/v3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
)

var colorMode string

// styles holds the color formatters of human output.
type styles struct {
	heading *color.Color
	name    *color.Color
	ok      *color.Color
	warn    *color.Color
	bad     *color.Color
}

func newStyles() *styles {
	switch colorMode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		color.NoColor = !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv("NO_COLOR") != ""
	}
	return &styles{
		heading: color.New(color.Bold),
		name:    color.New(color.Bold, color.FgHiBlue),
		ok:      color.New(color.FgHiGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.Bold, color.FgRed),
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue sizes and per-collection progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var treeDepth int

var treeCmd = &cobra.Command{
	Use:   "tree <collection|document-id>",
	Short: "Print the document hierarchy under a collection or document",
	Args:  cobra.ExactArgs(1),
	RunE:  runTree,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "Color output: auto, always, never")
	treeCmd.Flags().IntVar(&treeDepth, "depth", 0, "Maximum depth to print (0 for no limit)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	s := newStyles()
	out := cmd.OutOrStdout()

	stats, err := a.queue.Stats(ctx)
	if err != nil {
		return err
	}
	s.heading.Fprintln(out, "Queues")
	if len(stats) == 0 {
		fmt.Fprintln(out, "  (empty)")
	}
	for _, c := range stats {
		started := s.ok.Sprint(c.Started)
		if c.Started > 0 {
			started = s.warn.Sprint(c.Started)
		}
		fmt.Fprintf(out, "  %-8s pending %-8d started %s\n", c.Queue, c.Pending, started)
	}

	colls, err := a.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range colls {
		total, err := a.store.CountDocuments(ctx, store.DocumentFilter{CollectionID: c.ID})
		if err != nil {
			return err
		}
		undigested, err := a.store.CountDocuments(ctx, store.DocumentFilter{CollectionID: c.ID, Undigested: true})
		if err != nil {
			return err
		}
		broken, err := a.store.BrokenCounts(ctx, c.ID)
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s %s\n", s.heading.Sprint("Collection"), s.name.Sprint(c.Name))
		fmt.Fprintf(out, "  documents   %d\n", total)
		fmt.Fprintf(out, "  digested    %s\n", s.ok.Sprint(total-undigested))
		fmt.Fprintf(out, "  undigested  %d\n", undigested)

		flags := make([]string, 0, len(broken))
		for f := range broken {
			flags = append(flags, f)
		}
		sort.Strings(flags)
		for _, f := range flags {
			fmt.Fprintf(out, "  %s %-28s %d\n", s.bad.Sprint("broken"), f, broken[f])
		}
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	var top *types.Document
	if id, perr := strconv.ParseInt(args[0], 10, 64); perr == nil {
		top, err = a.store.GetDocument(ctx, id)
	} else {
		var c *types.Collection
		if c, err = a.collection(ctx, args[0]); err == nil {
			top, err = a.store.RootDocument(ctx, c.ID)
		}
	}
	if err != nil {
		return err
	}

	s := newStyles()
	root := gotree.New(treeLabel(s, top))
	if err := addChildren(cmd, a, s, root, top, treeDepth); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), root.Print())
	return nil
}

func addChildren(cmd *cobra.Command, a *app, s *styles, node gotree.Tree, doc *types.Document, depth int) error {
	if depth == 1 {
		return nil
	}
	children, err := a.store.FindDocuments(cmd.Context(), store.DocumentFilter{
		CollectionID: doc.CollectionID,
		ParentID:     &doc.ID,
	})
	if err != nil {
		return err
	}
	next := depth
	if depth > 1 {
		next = depth - 1
	}
	for _, c := range children {
		if err := addChildren(cmd, a, s, node.Add(treeLabel(s, c)), c, next); err != nil {
			return err
		}
	}
	return nil
}

func treeLabel(s *styles, d *types.Document) string {
	name := d.Name()
	if name == "" || name == "." {
		name = "/"
	}
	label := fmt.Sprintf("%s [%d] %s", name, d.ID, d.ContentType)
	switch {
	case d.Broken != "":
		label += " " + s.bad.Sprint(d.Broken)
	case d.DigestedAt.IsZero() && !d.IsFolder():
		label += " " + s.warn.Sprint("pending")
	}
	return label
}
