package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const cliFixture = `
[[dataset_type]]
name = "bias"
dimensions = ["instrument", "detector"]
calibration = true

[[dataset_type]]
name = "gaia_dr2_20200414"
dimensions = ["htm7"]

[[dataset_type]]
name = "ps1_pv3_3pi_20170110"
dimensions = ["htm7"]

[[collection]]
name = "HSC/calib"
type = "chained"
children = ["HSC/calib/bias"]

[[collection]]
name = "HSC/calib/bias"
type = "calibration"

[[collection]]
name = "HSC/calib/run1"
type = "run"

[[collection]]
name = "refcats/DM-28636"
type = "run"

[[dataset]]
id = "bias-5"
type = "bias"
run = "HSC/calib/run1"
content = "bias for detector 5"
data_id = { instrument = "HSC", detector = 5 }
certify = [{ collection = "HSC/calib/bias", begin = 2024-01-01T00:00:00Z, end = 2025-01-01T00:00:00Z }]

[[dataset]]
id = "gaia-7"
type = "gaia_dr2_20200414"
run = "refcats/DM-28636"
content = "gaia pixel 7"
data_id = { htm7 = 7 }
`

// execute runs the root command with args and returns its standard output.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("visitsync %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	seedFile := filepath.Join(dir, "seed.toml")
	if err := os.WriteFile(seedFile, []byte(cliFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	stage := filepath.Join(dir, "staging")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VISITSYNC_VALIDITY", "visit")
	t.Setenv("NO_COLOR", "1")

	out := execute(t, "seed", seedFile, "--repo", src)
	if !strings.Contains(out, "2 datasets") {
		t.Errorf("seed output = %q", out)
	}

	journal := filepath.Join(dir, "journal.jsonl")
	common := []string{"--source-repo", src, "--dest-root", dst, "--staging-dir", stage, "--instrument", "HSC", "--journal", journal}

	out = execute(t, append([]string{"bootstrap"}, common...)...)
	if !strings.Contains(out, "bootstrapped") || !strings.Contains(out, "(1 datasets)") {
		t.Errorf("bootstrap output = %q", out)
	}

	visitArgs := []string{"--detector", "5", "--filter", "r", "--group", "g1", "--kind", "bias", "--timestamp", "2024-06-01T00:00:00Z"}
	out = execute(t, append(append([]string{"sync"}, common...), visitArgs...)...)
	if !strings.Contains(out, "+ bias") || !strings.Contains(out, "fetched 1 of 1") {
		t.Errorf("first sync output = %q", out)
	}
	out = execute(t, append(append([]string{"sync"}, common...), visitArgs...)...)
	if !strings.Contains(out, "= bias") || !strings.Contains(out, "fetched 0 of 1") {
		t.Errorf("second sync output = %q", out)
	}

	out = execute(t, "status", "--repo", dst)
	for _, want := range []string{"HSC/calib/run1", "refcats/DM-28636", "2 dataset(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out = execute(t, append(append([]string{"pipeline"}, common...), visitArgs...)...)
	want := "pipetask run -b " + dst + " -p bias.yaml -i HSC/raw/all"
	if strings.TrimSpace(out) != want {
		t.Errorf("pipeline output = %q, want %q", out, want)
	}

	out = execute(t, "journal", "--journal", journal)
	for _, want := range []string{"bootstrap_done", "visit_state visit=HSC/g1/5 from=idle to=resolving", "sync_done visit=HSC/g1/5"} {
		if !strings.Contains(out, want) {
			t.Errorf("journal output missing %q:\n%s", want, out)
		}
	}

	out = execute(t, "reap", "--staging-dir", stage)
	if !strings.Contains(out, "0 stale staging area(s) removed") {
		t.Errorf("reap output = %q", out)
	}

	entries, err := os.ReadDir(stage)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging directory not cleaned up: %v", entries)
	}
}
