package containers

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/praetorian-inc/hoard/pkg/types"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	sevenZipMagic = []byte("7z\xbc\xaf\x27\x1c")
	gzipMagic     = []byte("\x1f\x8b")
	bzip2Magic    = []byte("BZh")
	rarMagic      = []byte("Rar!\x1a\x07")
	tarMagic      = []byte("ustar")
)

const tarMagicOffset = 257

// unpackNative extracts src into dir without external tools. The format
// is taken from the leading bytes, not the filename.
func unpackNative(src, dir, password string) error {
	f, err := os.Open(src)
	if err != nil {
		return types.Broken(types.BrokenArchiveMissingFile, err, "opening archive")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		err = unpackZip(f, info.Size(), dir)
	case bytes.HasPrefix(head, sevenZipMagic):
		err = unpackSevenZip(f, info.Size(), dir, password)
	case bytes.HasPrefix(head, gzipMagic):
		err = unpackCompressed(f, dir, src, func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) })
	case bytes.HasPrefix(head, bzip2Magic):
		err = unpackCompressed(f, dir, src, func(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil })
	case isTar(head):
		if _, err = f.Seek(0, io.SeekStart); err == nil {
			err = unpackTar(f, dir)
		}
	case bytes.HasPrefix(head, rarMagic):
		return types.Broken(types.BrokenArchiveExtractionFailed, nil, "rar archives need the 7z tool")
	default:
		return types.Broken(types.BrokenArchiveExtractionFailed, nil, "unrecognised archive format")
	}

	if err == nil {
		return nil
	}
	if _, ok := types.AsBroken(err); ok {
		return err
	}
	return types.Broken(types.BrokenArchiveExtractionFailed, err, "extracting %s", filepath.Base(src))
}

func isTar(head []byte) bool {
	return len(head) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(head[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic)
}

func unpackZip(r io.ReaderAt, size int64, dir string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		if zf.Flags&0x1 != 0 {
			return types.Broken(types.BrokenArchiveEncrypted, nil, "%s is encrypted", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := makeDir(dir, zf.Name); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		err = writeMember(dir, zf.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func unpackSevenZip(r io.ReaderAt, size int64, dir, password string) error {
	zr, err := sevenzip.NewReaderWithPassword(r, size, password)
	if err != nil {
		return sevenZipError(err)
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			if err := makeDir(dir, zf.Name); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return sevenZipError(err)
		}
		err = writeMember(dir, zf.Name, rc)
		rc.Close()
		if err != nil {
			return sevenZipError(err)
		}
	}
	return nil
}

func sevenZipError(err error) error {
	var readErr *sevenzip.ReadError
	if errors.As(err, &readErr) && readErr.Encrypted {
		return types.Broken(types.BrokenArchiveEncrypted, err, "7z archive")
	}
	return err
}

// unpackCompressed handles single-stream compression: a compressed tar is
// unpacked as a tar, anything else becomes one file named after src.
func unpackCompressed(r io.Reader, dir, src string, open func(io.Reader) (io.Reader, error)) error {
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	zr, err := open(r)
	if err != nil {
		return err
	}
	br := bufio.NewReaderSize(zr, 1024)
	if head, _ := br.Peek(512); isTar(head) {
		return unpackTar(br, dir)
	}

	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if gz, ok := zr.(*gzip.Reader); ok && gz.Name != "" {
		name = filepath.Base(gz.Name)
	}
	if name == "" || name == "." {
		name = "data"
	}
	return writeMember(dir, name, br)
}

func unpackTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := makeDir(dir, hdr.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeMember(dir, hdr.Name, tr); err != nil {
				return err
			}
		}
	}
}

// memberPath resolves an archive entry name under dir, refusing names
// that would land outside it.
func memberPath(dir, name string) (string, error) {
	rel := filepath.FromSlash(strings.TrimLeft(strings.ReplaceAll(name, `\`, "/"), "/"))
	rel = filepath.Clean(rel)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	return filepath.Join(dir, rel), nil
}

func makeDir(dir, name string) error {
	path, err := memberPath(dir, name)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func writeMember(dir, name string, r io.Reader) error {
	path, err := memberPath(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
