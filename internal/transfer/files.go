package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/papapumpkin/visitsync/internal/catalog"
)

// Result describes one transferred artifact. Checksum is empty when the
// artifact was linked rather than read.
type Result struct {
	Size     int64
	Checksum string
}

// Checksum returns the hex SHA-256 of r and the number of bytes read.
func Checksum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File moves the artifact at srcPath in src to dstPath in dst. Hardlink mode
// links when both filesystems are backed by the same local disk and copies
// otherwise. I/O failures are Transient.
func File(mode catalog.TransferMode, src billy.Filesystem, srcPath string, dst billy.Filesystem, dstPath string) (Result, error) {
	if err := dst.MkdirAll(path.Dir(dstPath), 0o755); err != nil {
		return Result{}, catalog.Transient.Wrap(fmt.Errorf("mkdir for %s: %w", dstPath, err))
	}
	if mode == catalog.Hardlink {
		if res, ok := link(src, srcPath, dst, dstPath); ok {
			return res, nil
		}
	}
	return copyFile(src, srcPath, dst, dstPath)
}

// link attempts an OS hard link. In-memory filesystems fail the attempt,
// which sends the caller down the copy path.
func link(src billy.Filesystem, srcPath string, dst billy.Filesystem, dstPath string) (Result, bool) {
	from := filepath.Join(src.Root(), filepath.FromSlash(srcPath))
	to := filepath.Join(dst.Root(), filepath.FromSlash(dstPath))
	info, err := os.Stat(from)
	if err != nil || !info.Mode().IsRegular() {
		return Result{}, false
	}
	if _, err := dst.Stat(dstPath); err == nil {
		return Result{}, false
	}
	if err := os.Link(from, to); err != nil {
		return Result{}, false
	}
	return Result{Size: info.Size()}, true
}

func copyFile(src billy.Filesystem, srcPath string, dst billy.Filesystem, dstPath string) (Result, error) {
	in, err := src.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, catalog.NotFound.New("artifact %s", srcPath)
		}
		return Result{}, catalog.Transient.Wrap(fmt.Errorf("open %s: %w", srcPath, err))
	}
	defer in.Close()

	h := sha256.New()
	if err := writeAtomic(dst, dstPath, io.TeeReader(in, h)); err != nil {
		return Result{}, catalog.Transient.Wrap(fmt.Errorf("copy %s: %w", srcPath, err))
	}
	info, err := dst.Stat(dstPath)
	if err != nil {
		return Result{}, catalog.Transient.Wrap(fmt.Errorf("stat %s: %w", dstPath, err))
	}
	return Result{Size: info.Size(), Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// writeAtomic writes r to a temporary sibling of name and renames it into
// place, so readers never observe a half-written file.
func writeAtomic(fs billy.Filesystem, name string, r io.Reader) error {
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}
	tmp := path.Join(path.Dir(name), "."+path.Base(name)+"."+uuid.NewString()+".tmp")
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, name); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// Write stores the contents of r at name in fs atomically and returns its
// size and checksum.
func Write(fs billy.Filesystem, name string, r io.Reader) (Result, error) {
	h := sha256.New()
	cr := &countingReader{r: io.TeeReader(r, h)}
	if err := writeAtomic(fs, name, cr); err != nil {
		return Result{}, catalog.Transient.Wrap(fmt.Errorf("write %s: %w", name, err))
	}
	return Result{Size: cr.n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
