package pathref

import (
	"os"
	"path/filepath"
	"strings"
)

const parent = ".."

// ToRelative expresses target relative to the directory holding the document
// at base.
//
// The common directory prefix of target and base is dropped; each remaining
// directory segment of base becomes one "..", followed by the remaining
// segments of target. A relative target is returned unchanged.
func ToRelative(target, base string) string {
	if target == "" || !isAbs(target) || !isAbs(base) {
		return filepath.ToSlash(target)
	}

	targetSegs := segments(Simplify(target))
	baseSegs := segments(Simplify(base))
	baseDir := baseSegs[:max(len(baseSegs)-1, 0)]

	// The file name of target always survives.
	limit := min(len(targetSegs)-1, len(baseDir))
	common := 0
	for common < limit && targetSegs[common] == baseDir[common] {
		common++
	}

	out := make([]string, 0, len(baseDir)-common+len(targetSegs)-common)
	for range len(baseDir) - common {
		out = append(out, parent)
	}
	out = append(out, targetSegs[common:]...)
	return strings.Join(out, "/")
}

// ToAbsolute resolves ref against the directory holding the document at base.
//
// An absolute ref that names an existing file is only cleaned into native
// form; other absolute refs are simplified. Relative refs are joined onto the base
// directory and every ".." is collapsed with the segment before it.
func ToAbsolute(ref, base string) string {
	if ref == "" {
		return ""
	}
	native := filepath.FromSlash(ref)
	if isAbs(ref) {
		if info, err := os.Stat(native); err == nil && !info.IsDir() {
			return filepath.Clean(native)
		}
		return filepath.FromSlash(Simplify(ref))
	}

	dir := filepath.ToSlash(base)
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = ""
	}
	return filepath.FromSlash(Simplify(dir + filepath.ToSlash(ref)))
}

// Simplify removes empty and "." segments and collapses each ".." with the
// segment immediately preceding it in a single left-to-right pass. Leading
// ".." segments of a relative path have nothing to collapse and are kept.
func Simplify(path string) string {
	p := filepath.ToSlash(path)
	abs := strings.HasPrefix(p, "/")

	kept := make([]string, 0, 8)
	for _, seg := range segments(p) {
		if seg == parent && len(kept) > 0 && kept[len(kept)-1] != parent {
			kept = kept[:len(kept)-1]
			continue
		}
		if seg == parent && abs {
			// Above the root.
			continue
		}
		kept = append(kept, seg)
	}

	out := strings.Join(kept, "/")
	if abs {
		return "/" + out
	}
	return out
}

// Within reports whether path lies inside root after simplification.
func Within(path, root string) bool {
	p := Simplify(path)
	r := strings.TrimSuffix(Simplify(root), "/")
	return p == r || strings.HasPrefix(p, r+"/")
}

func segments(p string) []string {
	raw := strings.Split(filepath.ToSlash(p), "/")
	out := raw[:0]
	for _, seg := range raw {
		if seg == "" || seg == "." {
			continue
		}
		out = append(out, seg)
	}
	return out
}

func isAbs(p string) bool {
	return strings.HasPrefix(filepath.ToSlash(p), "/") || filepath.IsAbs(p)
}
