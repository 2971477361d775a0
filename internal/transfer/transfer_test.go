package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
)

func TestManifest(t *testing.T) {
	t.Parallel()

	t.Run("round trip keeps data IDs and timespans", func(t *testing.T) {
		t.Parallel()
		fs := memfs.New()
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		m := Manifest{
			DatasetTypes: []catalog.DatasetType{{
				Name:          "bias",
				Dimensions:    []dataid.Dimension{dataid.Instrument, dataid.Detector},
				IsCalibration: true,
			}},
			Collections: []catalog.Collection{
				{Name: "HSC/calib", Type: catalog.Chained, Children: []string{"HSC/calib/2024"}},
			},
			Datasets: []catalog.DatasetRef{{
				ID:     "d1",
				Type:   "bias",
				Run:    "HSC/calib/run1",
				DataID: dataid.DataID{Instrument: "HSC", Detector: dataid.Int(5)},
			}},
			Associations: []Association{{
				Collection: "HSC/calib/2024",
				DatasetID:  "d1",
				Timespan:   catalog.Timespan{Begin: t0},
			}},
		}
		if err := WriteManifest(fs, m); err != nil {
			t.Fatalf("WriteManifest: %v", err)
		}
		got, err := ReadManifest(fs)
		if err != nil {
			t.Fatalf("ReadManifest: %v", err)
		}
		if got.Version != Version {
			t.Errorf("Version = %d, want %d", got.Version, Version)
		}
		if !got.Datasets[0].DataID.Equal(m.Datasets[0].DataID) {
			t.Errorf("DataID = %v, want %v", got.Datasets[0].DataID, m.Datasets[0].DataID)
		}
		span := got.Associations[0].Timespan
		if !span.Begin.Equal(t0) || !span.End.IsZero() {
			t.Errorf("Timespan = %v, want [%v, +inf)", span, t0)
		}
		if !got.DatasetIDs()["d1"] {
			t.Error("DatasetIDs should include d1")
		}
	})

	t.Run("missing manifest is NotFound", func(t *testing.T) {
		t.Parallel()
		_, err := ReadManifest(memfs.New())
		if !catalog.NotFound.Has(err) {
			t.Fatalf("ReadManifest error = %v, want NotFound", err)
		}
	})

	t.Run("unknown version rejected", func(t *testing.T) {
		t.Parallel()
		fs := memfs.New()
		if err := util.WriteFile(fs, ManifestName, []byte("version: 99\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadManifest(fs); err == nil {
			t.Fatal("expected error for unsupported version")
		}
	})
}

func TestFile(t *testing.T) {
	t.Parallel()

	t.Run("copy computes checksum", func(t *testing.T) {
		t.Parallel()
		src, dst := memfs.New(), memfs.New()
		want, err := Write(src, "a/b.fits", strings.NewReader("pixels"))
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, err := File(catalog.Copy, src, "a/b.fits", dst, "x/y/b.fits")
		if err != nil {
			t.Fatalf("File: %v", err)
		}
		if got != want {
			t.Errorf("File result = %+v, want %+v", got, want)
		}
		sum, n, err := Checksum(strings.NewReader("pixels"))
		if err != nil || n != 6 || sum != want.Checksum {
			t.Errorf("Checksum = %q, %d, %v; want %q, 6, nil", sum, n, err, want.Checksum)
		}
	})

	t.Run("hardlink on disk shares the file", func(t *testing.T) {
		t.Parallel()
		srcDir, dstDir := t.TempDir(), t.TempDir()
		src, dst := osfs.New(srcDir), osfs.New(dstDir)
		if _, err := Write(src, "f/calib.fits", strings.NewReader("flat")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		res, err := File(catalog.Hardlink, src, "f/calib.fits", dst, "g/calib.fits")
		if err != nil {
			t.Fatalf("File: %v", err)
		}
		if res.Size != 4 {
			t.Errorf("Size = %d, want 4", res.Size)
		}
		a, err := os.Stat(filepath.Join(srcDir, "f", "calib.fits"))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.Stat(filepath.Join(dstDir, "g", "calib.fits"))
		if err != nil {
			t.Fatal(err)
		}
		if !os.SameFile(a, b) {
			t.Error("hardlink transfer did not link the file")
		}
	})

	t.Run("hardlink falls back to copy in memory", func(t *testing.T) {
		t.Parallel()
		src, dst := memfs.New(), memfs.New()
		if _, err := Write(src, "c.fits", strings.NewReader("dark")); err != nil {
			t.Fatal(err)
		}
		res, err := File(catalog.Hardlink, src, "c.fits", dst, "c.fits")
		if err != nil {
			t.Fatalf("File: %v", err)
		}
		if res.Checksum == "" {
			t.Error("expected a copy with checksum")
		}
	})

	t.Run("missing artifact is NotFound", func(t *testing.T) {
		t.Parallel()
		_, err := File(catalog.Copy, memfs.New(), "nope", memfs.New(), "nope")
		if !catalog.NotFound.Has(err) {
			t.Fatalf("File error = %v, want NotFound", err)
		}
	})
}
