// Package archive extracts downloaded zip and tar archives with the guard
// rails a hostile archive requires: member-count and total-size caps,
// compression-ratio limits, traversal and link containment, device-file
// rejection, and per-member streaming cutoffs against decompression bombs.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// Limits caps what an extraction may consume.
type Limits struct {
	MaxFiles            int     // member count cap
	MaxExtractedBytes   int64   // total uncompressed cap
	MaxCompressionRatio float64 // uncompressed / compressed cap
	AllowLinks          bool    // permit sym/hard links whose target stays inside dest
}

// DefaultLimits returns the production guard values.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:            10_000,
		MaxExtractedBytes:   10 << 30, // 10 GiB
		MaxCompressionRatio: 100,
	}
}

// ExtractionError is the base class for archive guard failures. These are
// hard failures: the archive is hostile or malformed, never retried.
type ExtractionError struct {
	Kind   string // "path_traversal", "symlink", "decompression_bomb", "limit", "device"
	Member string
	Detail string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("archive %s: %s (%s)", e.Kind, e.Member, e.Detail)
}

// PathTraversalError wraps a member escaping the destination.
func PathTraversalError(member, detail string) *ExtractionError {
	return &ExtractionError{Kind: "path_traversal", Member: member, Detail: detail}
}

// SymlinkError wraps a refused link member.
func SymlinkError(member, detail string) *ExtractionError {
	return &ExtractionError{Kind: "symlink", Member: member, Detail: detail}
}

// DecompressionBombError wraps a member expanding past its declared size.
func DecompressionBombError(member, detail string) *ExtractionError {
	return &ExtractionError{Kind: "decompression_bomb", Member: member, Detail: detail}
}

// Supported reports whether SafeExtract understands the filename suffix.
func Supported(path string) bool {
	for _, suffix := range []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".tar.zst"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// SafeExtract extracts a zip or tar archive into dest under the limits.
// The format is chosen by filename suffix. On any guard failure extraction
// stops and already-written members are removed, leaving dest as it was.
func SafeExtract(archivePath, dest string, limits Limits) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	var written []string
	var err error
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		written, err = extractZip(archivePath, dest, limits)
	case strings.HasSuffix(archivePath, ".tar"),
		strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"),
		strings.HasSuffix(archivePath, ".tar.bz2"),
		strings.HasSuffix(archivePath, ".tar.xz"),
		strings.HasSuffix(archivePath, ".tar.zst"):
		written, err = extractTar(archivePath, dest, limits)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		for i := len(written) - 1; i >= 0; i-- {
			_ = os.Remove(written[i])
		}
		return err
	}
	return nil
}

func extractZip(archivePath, dest string, limits Limits) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer func() { _ = r.Close() }()

	if limits.MaxFiles > 0 && len(r.File) > limits.MaxFiles {
		return nil, &ExtractionError{Kind: "limit", Member: archivePath,
			Detail: fmt.Sprintf("member count %d exceeds %d", len(r.File), limits.MaxFiles)}
	}

	var declaredTotal uint64
	for _, f := range r.File {
		declaredTotal += f.UncompressedSize64
	}
	if limits.MaxExtractedBytes > 0 && declaredTotal > uint64(limits.MaxExtractedBytes) {
		return nil, &ExtractionError{Kind: "limit", Member: archivePath,
			Detail: fmt.Sprintf("declared size %d exceeds %d", declaredTotal, limits.MaxExtractedBytes)}
	}
	if info, err := os.Stat(archivePath); err == nil && info.Size() > 0 && limits.MaxCompressionRatio > 0 {
		if float64(declaredTotal)/float64(info.Size()) > limits.MaxCompressionRatio {
			return nil, DecompressionBombError(archivePath,
				fmt.Sprintf("compression ratio exceeds %.0fx", limits.MaxCompressionRatio))
		}
	}

	var written []string
	var totalWritten int64
	for _, f := range r.File {
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 {
			if !limits.AllowLinks {
				return written, SymlinkError(f.Name, "symlinks not permitted")
			}
			// Link target must be read and contained.
			rc, err := f.Open()
			if err != nil {
				return written, err
			}
			linkTarget, err := io.ReadAll(io.LimitReader(rc, 4096))
			_ = rc.Close()
			if err != nil {
				return written, err
			}
			if err := writeLink(dest, f.Name, string(linkTarget), &written); err != nil {
				return written, err
			}
			continue
		}
		if mode&os.ModeDevice != 0 || mode&os.ModeCharDevice != 0 {
			return written, &ExtractionError{Kind: "device", Member: f.Name, Detail: "device member"}
		}
		path, err := safepath.SecureJoin(dest, f.Name)
		if err != nil {
			return written, PathTraversalError(f.Name, err.Error())
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return written, err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return written, err
		}
		n, err := writeMember(path, rc, int64(f.UncompressedSize64), limits, totalWritten, f.Name)
		_ = rc.Close()
		// Listed even when empty so failure cleanup removes it.
		written = append(written, path)
		if err != nil {
			return written, err
		}
		totalWritten += n
	}
	return written, nil
}

func extractTar(archivePath, dest string, limits Limits) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var reader io.Reader = f
	switch {
	case strings.HasSuffix(archivePath, ".gz"), strings.HasSuffix(archivePath, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case strings.HasSuffix(archivePath, ".bz2"):
		reader = bzip2.NewReader(f)
	case strings.HasSuffix(archivePath, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		reader = xr
	case strings.HasSuffix(archivePath, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	compressedSize := int64(0)
	if info, err := os.Stat(archivePath); err == nil {
		compressedSize = info.Size()
	}

	tr := tar.NewReader(reader)
	var written []string
	var totalWritten int64
	memberCount := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("tar: %w", err)
		}
		memberCount++
		if limits.MaxFiles > 0 && memberCount > limits.MaxFiles {
			return written, &ExtractionError{Kind: "limit", Member: hdr.Name,
				Detail: fmt.Sprintf("member count exceeds %d", limits.MaxFiles)}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			path, err := safepath.SecureJoin(dest, hdr.Name)
			if err != nil {
				return written, PathTraversalError(hdr.Name, err.Error())
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return written, err
			}
		case tar.TypeSymlink, tar.TypeLink:
			if !limits.AllowLinks {
				return written, SymlinkError(hdr.Name, "links not permitted")
			}
			if err := writeLink(dest, hdr.Name, hdr.Linkname, &written); err != nil {
				return written, err
			}
		case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			return written, &ExtractionError{Kind: "device", Member: hdr.Name, Detail: "device member"}
		case tar.TypeReg:
			path, err := safepath.SecureJoin(dest, hdr.Name)
			if err != nil {
				return written, PathTraversalError(hdr.Name, err.Error())
			}
			n, err := writeMember(path, tr, hdr.Size, limits, totalWritten, hdr.Name)
			written = append(written, path)
			if err != nil {
				return written, err
			}
			totalWritten += n
			if limits.MaxCompressionRatio > 0 && compressedSize > 0 &&
				float64(totalWritten)/float64(compressedSize) > limits.MaxCompressionRatio {
				return written, DecompressionBombError(hdr.Name,
					fmt.Sprintf("compression ratio exceeds %.0fx", limits.MaxCompressionRatio))
			}
		default:
			// GNU extensions (long names etc.) already resolved by archive/tar.
		}
	}
	return written, nil
}

// writeMember streams one member to disk. Writing more than 1.1x the declared
// size aborts as a bomb; crossing the total cap aborts as a limit breach.
func writeMember(path string, r io.Reader, declared int64, limits Limits, totalSoFar int64, member string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	ceiling := int64(-1)
	if declared > 0 {
		ceiling = declared + declared/10
	}

	var n int64
	buf := make([]byte, 1<<20)
	for {
		read, rerr := r.Read(buf)
		if read > 0 {
			if _, werr := out.Write(buf[:read]); werr != nil {
				return n, werr
			}
			n += int64(read)
			if ceiling >= 0 && n > ceiling {
				return n, DecompressionBombError(member,
					fmt.Sprintf("wrote %d bytes, declared %d", n, declared))
			}
			if limits.MaxExtractedBytes > 0 && totalSoFar+n > limits.MaxExtractedBytes {
				return n, &ExtractionError{Kind: "limit", Member: member,
					Detail: fmt.Sprintf("total extracted bytes exceed %d", limits.MaxExtractedBytes)}
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// writeLink creates a contained symlink. Both the link path and its resolved
// target must stay inside dest.
func writeLink(dest, name, target string, written *[]string) error {
	path, err := safepath.SecureJoin(dest, name)
	if err != nil {
		return PathTraversalError(name, err.Error())
	}
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(path), target)
	}
	if !safepath.Contains(dest, resolved) {
		return SymlinkError(name, "link target escapes destination")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Symlink(target, path); err != nil {
		return err
	}
	*written = append(*written, path)
	return nil
}
