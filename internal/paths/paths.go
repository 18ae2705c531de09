// Package paths resolves file locations inside a creator folder across the
// several layouts produced by different downloader tool versions.
package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Kind selects which profile image to look for.
type Kind string

const (
	KindAvatar Kind = "avatar"
	KindHeader Kind = "header"
)

// imageExts are the extensions considered profile images.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

var safeFolderName = regexp.MustCompile(`^[a-zA-Z0-9_\-. ]+$`)

// IsSafeFolderName reports whether name is a plain folder name containing only
// allowlisted characters. Path separators, empty names and the dot entries are
// rejected, so a safe name can never escape the library root.
func IsSafeFolderName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return safeFolderName.MatchString(name)
}

// kindFolder maps a Kind to the subfolder name the downloader uses for it.
func kindFolder(kind Kind) string {
	switch kind {
	case KindAvatar:
		return "Avatars"
	case KindHeader:
		return "Headers"
	default:
		return string(kind)
	}
}

// FindProfileImage searches the known candidate locations inside creatorDir
// for an image of the given kind and returns the absolute path of the most
// recently modified match, or "" if none exists.
//
// Candidate directories are tried in order; the first directory that yields
// any match wins. In directories that are not the kind-specific subfolder,
// only filenames containing the kind name (case-insensitive) are considered,
// so a header image in the creator root is not mistaken for an avatar.
func FindProfileImage(creatorDir string, kind Kind) string {
	sub := kindFolder(kind)
	candidates := []string{
		filepath.Join(creatorDir, "Profile", sub),
		filepath.Join(creatorDir, "Metadata", "Profile", sub),
		filepath.Join(creatorDir, sub),
		filepath.Join(creatorDir, "Profile"),
		creatorDir,
	}

	for _, dir := range candidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		generic := filepath.Base(dir) != sub

		var best string
		var bestMod time.Time
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if !imageExts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			if generic && !strings.Contains(strings.ToLower(name), string(kind)) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if best == "" || info.ModTime().After(bestMod) {
				best = filepath.Join(dir, name)
				bestMod = info.ModTime()
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

// absDirPattern matches directory values that are already absolute: a Windows
// drive letter or a root-rooted path with either separator.
var absDirPattern = regexp.MustCompile(`^([a-zA-Z]:|[\\/])`)

// ResolveMediaPath turns a media row's stored directory and filename into a
// full path. Older downloader versions record directories relative to the
// creator base, newer ones record absolute paths, and some repeat the base in
// the stored value; all three conventions are handled.
func ResolveMediaPath(base, directory, filename string) string {
	base = normalizeSlashes(base)
	dir := normalizeSlashes(directory)

	if absDirPattern.MatchString(dir) {
		return filepath.Join(dir, filename)
	}
	if strings.HasPrefix(dir, base) {
		return filepath.Join(dir, filename)
	}
	return filepath.Join(base, dir, filename)
}

func normalizeSlashes(p string) string {
	p = strings.ReplaceAll(p, "\\", string(filepath.Separator))
	return strings.ReplaceAll(p, "/", string(filepath.Separator))
}
