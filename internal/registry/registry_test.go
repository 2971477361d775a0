package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
	"github.com/papapumpkin/visitsync/internal/seed"
	"github.com/papapumpkin/visitsync/internal/staging"
	"github.com/papapumpkin/visitsync/internal/transfer"
)

const fixture = `
[[dataset_type]]
name = "bias"
dimensions = ["instrument", "detector"]
calibration = true

[[dataset_type]]
name = "flat"
dimensions = ["instrument", "detector", "physical_filter"]
calibration = true

[[dataset_type]]
name = "gaia"
dimensions = ["htm7"]

[[collection]]
name = "HSC/calib"
type = "chained"
children = ["HSC/calib/2024", "HSC/calib/legacy"]

[[collection]]
name = "HSC/calib/legacy"
type = "chained"
children = ["HSC/calib/2023"]

[[collection]]
name = "HSC/calib/2024"
type = "calibration"

[[collection]]
name = "HSC/calib/2023"
type = "calibration"

[[collection]]
name = "HSC/calib/run2024"
type = "run"

[[collection]]
name = "HSC/calib/run2023"
type = "run"

[[collection]]
name = "refcats"
type = "run"

[[dataset]]
id = "bias-5-2024"
type = "bias"
run = "HSC/calib/run2024"
content = "bias 5 2024"
data_id = { instrument = "HSC", detector = 5 }
certify = [{ collection = "HSC/calib/2024", begin = 2024-01-01T00:00:00Z, end = 2025-01-01T00:00:00Z }]

[[dataset]]
id = "bias-5-2023"
type = "bias"
run = "HSC/calib/run2023"
content = "bias 5 2023"
data_id = { instrument = "HSC", detector = 5 }
certify = [{ collection = "HSC/calib/2023", begin = 2023-01-01T00:00:00Z, end = 2024-01-01T00:00:00Z }]

[[dataset]]
id = "bias-6-2024"
type = "bias"
run = "HSC/calib/run2024"
content = "bias 6 2024"
data_id = { instrument = "HSC", detector = 6 }
certify = [{ collection = "HSC/calib/2024", begin = 2024-01-01T00:00:00Z }]

[[dataset]]
id = "flat-5-r"
type = "flat"
run = "HSC/calib/run2024"
content = "flat 5 r"
data_id = { instrument = "HSC", detector = 5, physical_filter = "r" }
certify = [{ collection = "HSC/calib/2024", begin = 2024-01-01T00:00:00Z }]

[[dataset]]
id = "gaia-1"
type = "gaia"
run = "refcats"
content = "gaia 1"
data_id = { htm7 = 1 }

[[dataset]]
id = "gaia-2"
type = "gaia"
run = "refcats"
content = "gaia 2"
data_id = { htm7 = 2 }
`

var (
	mid2024 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mid2023 = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
)

// testRegistry creates an empty writable registry and registers cleanup.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(context.Background(), t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// seededRegistry creates a registry holding the fixture catalog.
func seededRegistry(t *testing.T) *Registry {
	t.Helper()
	r := testRegistry(t)
	f, err := seed.Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("seed.Parse: %v", err)
	}
	if _, err := seed.Apply(context.Background(), r, f); err != nil {
		t.Fatalf("seed.Apply: %v", err)
	}
	return r
}

func collectionNames(cs []catalog.Collection) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func refIDs(refs []catalog.DatasetRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	sort.Strings(out)
	return out
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates database in WAL mode", func(t *testing.T) {
		t.Parallel()
		r := testRegistry(t)
		var mode string
		if err := r.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("query journal_mode: %v", err)
		}
		if mode != "wal" {
			t.Errorf("journal_mode = %q, want %q", mode, "wal")
		}
		if err := r.Create(ctx); err != nil {
			t.Errorf("second Create: %v", err)
		}
	})

	t.Run("read-only requires existing registry", func(t *testing.T) {
		t.Parallel()
		_, err := Open(ctx, filepath.Join(t.TempDir(), "missing"), Options{ReadOnly: true})
		if !catalog.Unavailable.Has(err) {
			t.Fatalf("Open error = %v, want Unavailable", err)
		}
	})

	t.Run("read-only handle rejects writes", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		w, err := Open(ctx, root, Options{})
		if err != nil {
			t.Fatal(err)
		}
		w.Close()

		ro, err := Open(ctx, root, Options{ReadOnly: true})
		if err != nil {
			t.Fatalf("read-only Open: %v", err)
		}
		defer ro.Close()
		if err := ro.Create(ctx); err == nil {
			t.Error("Create on read-only registry should fail")
		}
		if err := ro.RegisterCollection(ctx, catalog.Collection{Name: "x", Type: catalog.Run}); err == nil {
			t.Error("RegisterCollection on read-only registry should fail")
		}
	})
}

func TestQueryCollections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := seededRegistry(t)

	tests := []struct {
		name string
		q    catalog.CollectionQuery
		want []string
	}{
		{"root only", catalog.CollectionQuery{}, []string{"HSC/calib"}},
		{"flattened", catalog.CollectionQuery{FlattenChains: true}, []string{"HSC/calib/2024", "HSC/calib/2023"}},
		{
			"flattened with chains",
			catalog.CollectionQuery{FlattenChains: true, IncludeChains: true},
			[]string{"HSC/calib", "HSC/calib/2024", "HSC/calib/legacy", "HSC/calib/2023"},
		},
		{
			"chains only",
			catalog.CollectionQuery{FlattenChains: true, IncludeChains: true, Types: []catalog.CollectionType{catalog.Chained}},
			[]string{"HSC/calib", "HSC/calib/legacy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.QueryCollections(ctx, "HSC/calib", tt.q)
			if err != nil {
				t.Fatalf("QueryCollections: %v", err)
			}
			if diff := cmp.Diff(tt.want, collectionNames(got)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := r.QueryCollections(ctx, "nope", catalog.CollectionQuery{}); !catalog.NotFound.Has(err) {
		t.Errorf("unknown collection error = %v, want NotFound", err)
	}
}

func TestFindDataset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := seededRegistry(t)

	det := func(n int) dataid.DataID {
		return dataid.DataID{Instrument: "HSC", Detector: dataid.Int(n), PhysicalFilter: "r", Group: "g"}
	}

	tests := []struct {
		name string
		typ  string
		id   dataid.DataID
		at   time.Time
		want string
	}{
		{"current bias", "bias", det(5), mid2024, "bias-5-2024"},
		{"bias through nested chain", "bias", det(5), mid2023, "bias-5-2023"},
		{"other detector", "bias", det(6), mid2024, "bias-6-2024"},
		{"open-ended validity", "bias", det(6), mid2024.AddDate(5, 0, 0), "bias-6-2024"},
		{"before any validity", "bias", det(6), mid2023, ""},
		{"no such detector", "bias", det(7), mid2024, ""},
		{"flat with filter", "flat", det(5), mid2024, "flat-5-r"},
		{"flat needs filter", "flat", dataid.DataID{Instrument: "HSC", Detector: dataid.Int(5)}, mid2024, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FindDataset(ctx, tt.typ, tt.id, []string{"HSC/calib"}, catalog.Instant(tt.at))
			if err != nil {
				t.Fatalf("FindDataset: %v", err)
			}
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Errorf("FindDataset = %q, want %q", gotID, tt.want)
			}
		})
	}

	t.Run("run collection", func(t *testing.T) {
		got, err := r.FindDataset(ctx, "gaia", dataid.DataID{HTM7: dataid.Int(2)}, []string{"refcats"}, catalog.Timespan{})
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.ID != "gaia-2" {
			t.Errorf("FindDataset = %v, want gaia-2", got)
		}
	})

	t.Run("unknown dataset type", func(t *testing.T) {
		_, err := r.FindDataset(ctx, "dark", det(5), []string{"HSC/calib"}, catalog.Instant(mid2024))
		if !catalog.NotFound.Has(err) {
			t.Errorf("error = %v, want NotFound", err)
		}
	})
}

func TestQueryAssociationsAndDatasets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := seededRegistry(t)

	assocs, err := r.QueryAssociations(ctx, "bias", "HSC/calib", catalog.CollectionQuery{
		FlattenChains: true,
		Types:         []catalog.CollectionType{catalog.Calibration},
	})
	if err != nil {
		t.Fatalf("QueryAssociations: %v", err)
	}
	var got []string
	for _, a := range assocs {
		got = append(got, a.Collection+":"+a.Ref.ID)
	}
	want := []string{"HSC/calib/2024:bias-5-2024", "HSC/calib/2024:bias-6-2024", "HSC/calib/2023:bias-5-2023"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("associations mismatch (-want +got):\n%s", diff)
	}

	refs, err := r.QueryDatasets(ctx, catalog.DatasetQuery{
		Type:        "gaia",
		Collections: []string{"refcats"},
		Where:       func(id dataid.DataID) bool { return id.HTM7 != nil && *id.HTM7 == 2 },
	})
	if err != nil {
		t.Fatalf("QueryDatasets: %v", err)
	}
	if diff := cmp.Diff([]string{"gaia-2"}, refIDs(refs)); diff != "" {
		t.Errorf("QueryDatasets mismatch (-want +got):\n%s", diff)
	}

	refs, err = r.QueryDatasets(ctx, catalog.DatasetQuery{Type: "bias", Collections: []string{"HSC/calib"}})
	if err != nil {
		t.Fatalf("QueryDatasets calib: %v", err)
	}
	if diff := cmp.Diff([]string{"bias-5-2023", "bias-5-2024", "bias-6-2024"}, refIDs(refs)); diff != "" {
		t.Errorf("QueryDatasets calib mismatch (-want +got):\n%s", diff)
	}
}

func TestCertifyOverlapConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := seededRegistry(t)

	ref, err := r.PutDataset(ctx, catalog.DatasetRef{
		Type:   "bias",
		Run:    "HSC/calib/run2023",
		DataID: dataid.DataID{Instrument: "HSC", Detector: dataid.Int(6)},
	}, strings.NewReader("another bias 6"))
	if err != nil {
		t.Fatalf("PutDataset: %v", err)
	}

	overlapping := catalog.Timespan{Begin: mid2024}
	if err := r.Certify(ctx, "HSC/calib/2024", []string{ref.ID}, overlapping); !catalog.Conflict.Has(err) {
		t.Errorf("overlapping Certify error = %v, want Conflict", err)
	}
	earlier := catalog.Timespan{Begin: mid2023, End: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := r.Certify(ctx, "HSC/calib/2024", []string{ref.ID}, earlier); err != nil {
		t.Errorf("adjacent Certify: %v", err)
	}
}

// exportTo exports req from src into a fresh in-memory staging area.
func exportTo(t *testing.T, src *Registry, req catalog.ExportRequest) *staging.Area {
	t.Helper()
	area, err := staging.NewMemAllocator().Acquire("test", t.Name())
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Export(context.Background(), area, req); err != nil {
		t.Fatalf("Export: %v", err)
	}
	return area
}

func calibRequest(t *testing.T, src *Registry, ids ...string) catalog.ExportRequest {
	t.Helper()
	var refs []catalog.DatasetRef
	for _, id := range ids {
		ref, ok, err := dataset(context.Background(), src.db, id)
		if err != nil || !ok {
			t.Fatalf("dataset %s: ok=%v err=%v", id, ok, err)
		}
		refs = append(refs, ref)
	}
	return catalog.ExportRequest{Collections: []string{"HSC/calib"}, Datasets: refs}
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("package contents", func(t *testing.T) {
		t.Parallel()
		src := seededRegistry(t)
		area := exportTo(t, src, calibRequest(t, src, "bias-5-2024"))

		m, err := transfer.ReadManifest(area.FS)
		if err != nil {
			t.Fatalf("ReadManifest: %v", err)
		}
		wantColls := []string{"HSC/calib", "HSC/calib/2024", "HSC/calib/legacy", "HSC/calib/2023", "HSC/calib/run2024"}
		if diff := cmp.Diff(wantColls, collectionNames(m.Collections)); diff != "" {
			t.Errorf("collections mismatch (-want +got):\n%s", diff)
		}
		if len(m.Datasets) != 1 || len(m.DatasetTypes) != 1 {
			t.Errorf("package has %d datasets, %d types; want 1, 1", len(m.Datasets), len(m.DatasetTypes))
		}
		if len(m.Associations) != 1 || m.Associations[0].Collection != "HSC/calib/2024" {
			t.Errorf("associations = %+v, want one in HSC/calib/2024", m.Associations)
		}
	})

	t.Run("import is idempotent and self-sufficient", func(t *testing.T) {
		t.Parallel()
		src := seededRegistry(t)
		dst := testRegistry(t)
		area := exportTo(t, src, calibRequest(t, src, "bias-5-2024", "flat-5-r"))

		first, err := dst.Import(ctx, area, catalog.Hardlink)
		if err != nil {
			t.Fatalf("first Import: %v", err)
		}
		if first.DatasetsAdded != 2 || first.AssociationsAdded != 2 {
			t.Errorf("first Import stats = %+v", first)
		}
		before := snapshotState(t, dst)

		second, err := dst.Import(ctx, area, catalog.Hardlink)
		if err != nil {
			t.Fatalf("second Import: %v", err)
		}
		if second.DatasetsAdded != 0 || second.DatasetsSkipped != 2 || second.CollectionsAdded != 0 || second.AssociationsAdded != 0 {
			t.Errorf("second Import stats = %+v, want only skips", second)
		}
		if diff := cmp.Diff(before, snapshotState(t, dst)); diff != "" {
			t.Errorf("state changed on re-import (-first +second):\n%s", diff)
		}

		if err := area.Release(); err != nil {
			t.Fatal(err)
		}
		found, err := dst.FindDataset(ctx, "bias", dataid.DataID{Instrument: "HSC", Detector: dataid.Int(5)},
			[]string{"HSC/calib"}, catalog.Instant(mid2024))
		if err != nil || found == nil || found.ID != "bias-5-2024" {
			t.Fatalf("FindDataset in destination = %v, %v; want bias-5-2024", found, err)
		}
		data, err := util.ReadFile(dst.Datastore(), found.Path)
		if err != nil {
			t.Fatalf("reading imported artifact: %v", err)
		}
		if string(data) != "bias 5 2024" {
			t.Errorf("artifact = %q", data)
		}
	})

	t.Run("associations travel for resident datasets", func(t *testing.T) {
		t.Parallel()
		src := seededRegistry(t)
		dst := testRegistry(t)
		if _, err := dst.Import(ctx, exportTo(t, src, calibRequest(t, src, "bias-5-2024")), catalog.Hardlink); err != nil {
			t.Fatalf("initial Import: %v", err)
		}

		next := catalog.Timespan{
			Begin: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := src.Certify(ctx, "HSC/calib/2024", []string{"bias-5-2024"}, next); err != nil {
			t.Fatal(err)
		}

		req := catalog.ExportRequest{Collections: []string{"HSC/calib"}, Associate: []string{"bias-5-2024"}}
		area := exportTo(t, src, req)
		m, err := transfer.ReadManifest(area.FS)
		if err != nil {
			t.Fatalf("ReadManifest: %v", err)
		}
		if len(m.Datasets) != 0 || len(m.Associations) != 2 {
			t.Errorf("package has %d datasets, %d associations; want 0, 2", len(m.Datasets), len(m.Associations))
		}

		stats, err := dst.Import(ctx, area, catalog.Hardlink)
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		if stats.DatasetsAdded != 0 || stats.AssociationsAdded != 1 {
			t.Errorf("Import stats = %+v, want one new association", stats)
		}
		found, err := dst.FindDataset(ctx, "bias", dataid.DataID{Instrument: "HSC", Detector: dataid.Int(5)},
			[]string{"HSC/calib"}, catalog.Instant(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
		if err != nil || found == nil || found.ID != "bias-5-2024" {
			t.Fatalf("FindDataset in 2025 = %v, %v; want bias-5-2024", found, err)
		}
	})

	t.Run("missing dataset abandons the package", func(t *testing.T) {
		t.Parallel()
		src := seededRegistry(t)
		area, err := staging.NewMemAllocator().Acquire("test", "missing")
		if err != nil {
			t.Fatal(err)
		}
		req := catalog.ExportRequest{Datasets: []catalog.DatasetRef{{ID: "does-not-exist"}}}
		if err := src.Export(ctx, area, req); !catalog.NotFound.Has(err) {
			t.Fatalf("Export error = %v, want NotFound", err)
		}
		if _, err := transfer.ReadManifest(area.FS); !catalog.NotFound.Has(err) {
			t.Errorf("manifest should not exist after failed export, got %v", err)
		}
	})

	t.Run("conflict leaves destination unchanged", func(t *testing.T) {
		t.Parallel()
		src := seededRegistry(t)
		dst := testRegistry(t)

		// The destination already holds a different dataset with the same ID.
		for _, dt := range []catalog.DatasetType{
			{Name: "bias", Dimensions: []dataid.Dimension{dataid.Instrument, dataid.Detector}, IsCalibration: true},
		} {
			if err := dst.RegisterDatasetType(ctx, dt); err != nil {
				t.Fatal(err)
			}
		}
		if err := dst.RegisterCollection(ctx, catalog.Collection{Name: "HSC/calib/run2024", Type: catalog.Run}); err != nil {
			t.Fatal(err)
		}
		if _, err := dst.PutDataset(ctx, catalog.DatasetRef{
			ID:     "bias-5-2024",
			Type:   "bias",
			Run:    "HSC/calib/run2024",
			DataID: dataid.DataID{Instrument: "HSC", Detector: dataid.Int(5)},
		}, strings.NewReader("imposter")); err != nil {
			t.Fatal(err)
		}
		before := snapshotState(t, dst)
		filesBefore := countFiles(t, dst.Root())

		area := exportTo(t, src, calibRequest(t, src, "flat-5-r", "bias-5-2024"))
		if _, err := dst.Import(ctx, area, catalog.Copy); !catalog.Conflict.Has(err) {
			t.Fatalf("Import error = %v, want Conflict", err)
		}
		if diff := cmp.Diff(before, snapshotState(t, dst)); diff != "" {
			t.Errorf("state changed by failed import (-before +after):\n%s", diff)
		}
		if got := countFiles(t, dst.Root()); got != filesBefore {
			t.Errorf("datastore has %d files after failed import, want %d", got, filesBefore)
		}
	})

	t.Run("cancelled import commits nothing", func(t *testing.T) {
		t.Parallel()
		src := seededRegistry(t)
		dst := testRegistry(t)
		area := exportTo(t, src, calibRequest(t, src, "bias-5-2024"))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := dst.Import(cctx, area, catalog.Copy); err == nil {
			t.Fatal("Import with cancelled context should fail")
		}
		n, err := dst.DatasetCount(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("DatasetCount = %d after cancelled import, want 0", n)
		}
	})

	t.Run("chain members merge", func(t *testing.T) {
		t.Parallel()
		dst := testRegistry(t)
		if err := dst.RegisterCollection(ctx, catalog.Collection{
			Name: "HSC/calib", Type: catalog.Chained, Children: []string{"local/extra", "HSC/calib/2024"},
		}); err != nil {
			t.Fatal(err)
		}
		src := seededRegistry(t)
		area := exportTo(t, src, catalog.ExportRequest{Collections: []string{"HSC/calib"}})
		if _, err := dst.Import(ctx, area, catalog.Copy); err != nil {
			t.Fatalf("Import: %v", err)
		}
		c, err := collection(ctx, dst.db, "HSC/calib")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"local/extra", "HSC/calib/2024", "HSC/calib/legacy"}
		if diff := cmp.Diff(want, c.Children); diff != "" {
			t.Errorf("chain mismatch (-want +got):\n%s", diff)
		}
	})
}

type registryState struct {
	Collections  []catalog.Collection
	Datasets     []string
	Associations []string
}

func snapshotState(t *testing.T, r *Registry) registryState {
	t.Helper()
	ctx := context.Background()
	var s registryState
	var err error
	if s.Collections, err = r.Collections(ctx); err != nil {
		t.Fatal(err)
	}
	refs, err := r.Datasets(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range refs {
		s.Datasets = append(s.Datasets, ref.String()+":"+ref.Checksum)
	}
	for _, c := range s.Collections {
		if c.Type != catalog.Calibration {
			continue
		}
		assocs, err := r.Associations(ctx, c.Name)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range assocs {
			s.Associations = append(s.Associations, a.Collection+":"+a.Ref.ID+":"+a.Timespan.String())
		}
	}
	return s
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(filepath.Join(root, DatastoreDir), func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}
