// Package safepath guards every filesystem name the pipeline derives from
// remote input. Downloaded filenames are sanitized before use and extraction
// destinations are containment-checked, so a hostile server or archive can
// never write outside its target directory.
package safepath

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// windowsReserved are basenames that are device names on Windows filesystems.
// They get an underscore prefix rather than being rejected.
var windowsReserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._+=,@-]`)

// SanitizeFilename reduces an externally supplied name to a single safe path
// component. Path separators are stripped, dangerous characters replaced with
// underscores, and Windows reserved basenames prefixed. An empty or dot-only
// result yields fallback.
func SanitizeFilename(name, fallback string) string {
	// Keep only the final component regardless of separator convention.
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" {
		return fallback
	}
	base := strings.ToLower(name)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if windowsReserved[base] {
		name = "_" + name
	}
	return name
}

// SanitizeID maps a target id onto a directory-safe slug.
func SanitizeID(id string) string {
	slug := unsafeChars.ReplaceAllString(id, "_")
	slug = strings.Trim(slug, "._")
	if slug == "" {
		return "_unnamed"
	}
	return slug
}

// TraversalError reports a member path that would escape its destination.
type TraversalError struct {
	Member string
	Reason string
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("path traversal: %s (%s)", e.Member, e.Reason)
}

// SecureJoin resolves member relative to dest and verifies the result stays
// inside dest. Absolute members and members with ".." components are refused.
func SecureJoin(dest, member string) (string, error) {
	member = strings.ReplaceAll(member, "\\", "/")
	if member == "" {
		return "", &TraversalError{Member: member, Reason: "empty member name"}
	}
	if filepath.IsAbs(member) || strings.HasPrefix(member, "/") {
		return "", &TraversalError{Member: member, Reason: "absolute path"}
	}
	for _, part := range strings.Split(member, "/") {
		if part == ".." {
			return "", &TraversalError{Member: member, Reason: "parent directory component"}
		}
	}
	joined := filepath.Join(dest, filepath.FromSlash(member))
	if !Contains(dest, joined) {
		return "", &TraversalError{Member: member, Reason: "resolves outside destination"}
	}
	return joined, nil
}

// Contains reports whether path is dest itself or lexically beneath it.
func Contains(dest, path string) bool {
	destClean := filepath.Clean(dest)
	pathClean := filepath.Clean(path)
	if destClean == pathClean {
		return true
	}
	rel, err := filepath.Rel(destClean, pathClean)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
