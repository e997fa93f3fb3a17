package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/store"
)

// Set at link time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version   = ""
	commit    = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display the build of hoard, its database schema version and the queues it serves",
	RunE:  runVersion,
}

// build describes the running binary.
type build struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

// currentBuild prefers link-time values and falls back to the module
// version and VCS stamps the go tool embeds.
func currentBuild(info *debug.BuildInfo, ok bool) build {
	b := build{Version: version, Commit: commit, Date: buildDate}
	if ok {
		if b.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.Version = strings.TrimPrefix(info.Main.Version, "v")
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = s.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = s.Value
				}
			case "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Modified {
		b.Commit += "-dirty"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

func runVersion(cmd *cobra.Command, args []string) error {
	b := currentBuild(debug.ReadBuildInfo())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "hoard %s\n", b.Version)
	w := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
	fmt.Fprintf(w, "  commit:\t%s\n", b.Commit)
	fmt.Fprintf(w, "  built:\t%s\n", b.Date)
	fmt.Fprintf(w, "  schema:\tv%d\n", store.SchemaVersion)
	fmt.Fprintf(w, "  queues:\t%s\n", strings.Join([]string{queue.Digest, queue.OCR, queue.Index}, ", "))
	fmt.Fprintf(w, "  go:\t%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return w.Flush()
}
