package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/visitsync/internal/config"
	"github.com/papapumpkin/visitsync/internal/telemetry"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the worker's JSONL event journal",
	Long: `Prints the events a worker appended to the file named by --journal.

With --follow (-f), keeps watching the file for new events (like tail -f).`,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().BoolP("follow", "f", false, "follow the file for new events")
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Journal == "" {
		return fmt.Errorf("no journal configured: use --journal or set VISITSYNC_JOURNAL")
	}
	follow, _ := cmd.Flags().GetBool("follow")

	f, err := os.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(f)
	printLines(out, reader)
	if !follow {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("journal: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(cfg.Journal); err != nil {
		return fmt.Errorf("journal: watch %s: %w", cfg.Journal, err)
	}

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write != 0 {
				printLines(out, reader)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("journal: %w", err)
		}
	}
}

// printLines prints every complete line available from r.
func printLines(w io.Writer, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			printEvent(w, line)
		}
		if err != nil {
			return
		}
	}
}

// printEvent renders one journal line; undecodable lines are echoed.
func printEvent(w io.Writer, line string) {
	var evt telemetry.Event
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		fmt.Fprintf(w, "??? %s\n", line)
		return
	}

	parts := []string{fmt.Sprintf("[%s]", evt.Timestamp.Local().Format(time.TimeOnly)), evt.Kind}
	if evt.Visit != "" {
		parts = append(parts, "visit="+evt.Visit)
	}
	switch data := evt.Data.(type) {
	case nil:
	case map[string]any:
		parts = append(parts, formatDataMap(data))
	default:
		raw, _ := json.Marshal(data)
		parts = append(parts, string(raw))
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

// formatDataMap formats a data map as key=value pairs sorted by key.
func formatDataMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	return b.String()
}
