// Package ui renders command output for people: catalog listings and sync
// summaries, colored when the output is a terminal.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/papapumpkin/visitsync/internal/ansi"
	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/engine"
)

type Printer struct {
	w io.Writer
	s ansi.Styler
}

// New returns a printer writing to w, with color if w is a terminal.
func New(w io.Writer) *Printer {
	return &Printer{w: w, s: ansi.Styler(ansi.Enabled(w))}
}

func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.w, "%s%s\n", p.s.Style("error: ", ansi.Red, ansi.Bold), msg)
}

func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, p.s.Style(msg, ansi.Dim))
}

// Collections lists collections with their type; chains show their members.
func (p *Printer) Collections(cs []catalog.Collection) {
	fmt.Fprintln(p.w, p.s.Style("collections:", ansi.Bold))
	if len(cs) == 0 {
		fmt.Fprintln(p.w, p.s.Style("  (none)", ansi.Dim))
		return
	}
	for _, c := range cs {
		line := fmt.Sprintf("  %-12s %s", c.Type, c.Name)
		if c.Type == catalog.Chained {
			line += p.s.Style(" -> "+strings.Join(c.Children, ", "), ansi.Dim)
		}
		fmt.Fprintln(p.w, line)
	}
}

// Datasets lists datasets grouped by run with their sizes.
func (p *Printer) Datasets(refs []catalog.DatasetRef) {
	fmt.Fprintln(p.w, p.s.Style("datasets:", ansi.Bold))
	if len(refs) == 0 {
		fmt.Fprintln(p.w, p.s.Style("  (none)", ansi.Dim))
		return
	}
	byRun := make(map[string][]catalog.DatasetRef)
	var total int64
	for _, r := range refs {
		byRun[r.Run] = append(byRun[r.Run], r)
		total += r.Size
	}
	runs := make([]string, 0, len(byRun))
	for run := range byRun {
		runs = append(runs, run)
	}
	sort.Strings(runs)
	for _, run := range runs {
		fmt.Fprintf(p.w, "  %s\n", p.s.Style(run, ansi.Cyan))
		for _, r := range byRun[run] {
			fmt.Fprintf(p.w, "    %-24s %-40s %8s\n", r.Type, r.DataID, humanize.Bytes(uint64(r.Size)))
		}
	}
	fmt.Fprintf(p.w, "%d dataset(s), %s\n", len(refs), humanize.Bytes(uint64(total)))
}

// Bootstrapped reports a ready destination.
func (p *Printer) Bootstrapped(root string, datasets int) {
	fmt.Fprintf(p.w, "%s %s %s\n",
		p.s.Style("✓ bootstrapped", ansi.Green, ansi.Bold), root, p.s.Style(fmt.Sprintf("(%d datasets)", datasets), ansi.Dim))
}

// VisitSynced summarizes one visit sync. Resident datasets are marked with
// "=", fetched ones with "+".
func (p *Printer) VisitSynced(res engine.Result) {
	fmt.Fprintf(p.w, "%s %s %s\n",
		p.s.Style("✓ synced", ansi.Green, ansi.Bold), res.Visit,
		p.s.Style("validity at "+res.Instant.UTC().Format(time.RFC3339), ansi.Dim))
	fetched := make(map[string]bool, len(res.Fetched))
	for _, r := range res.Fetched {
		fetched[r.ID] = true
	}
	if len(res.Resolved) == 0 {
		fmt.Fprintln(p.w, p.s.Style("  no calibrations valid for this visit", ansi.Yellow))
	}
	for _, r := range res.Resolved {
		symbol := p.s.Style("=", ansi.Dim)
		if fetched[r.ID] {
			symbol = p.s.Style("+", ansi.Green)
		}
		fmt.Fprintf(p.w, "  %s %-12s %-40s %s\n", symbol, r.Type, r.DataID, r.Run)
	}
	fmt.Fprintf(p.w, "fetched %d of %d, %s transferred\n",
		len(res.Fetched), len(res.Resolved), humanize.Bytes(uint64(res.Stats.BytesTransferred)))
}
