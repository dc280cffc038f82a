package download

import (
	"os"
	"path/filepath"
	"strings"
)

// AudioExtensions lists the containers the downloader may produce, in probe order.
var AudioExtensions = []string{".mp3", ".m4a", ".aac", ".opus", ".webm", ".wav", ".flac"}

// IsAudioFile checks if the file extension is a known audio container.
func IsAudioFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, known := range AudioExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// ProbeStem returns the first existing file named stem+ext for the known
// extensions.
func ProbeStem(stem string) (string, bool) {
	for _, ext := range AudioExtensions {
		candidate := stem + ext
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// ResolveAudioFile locates the downloader output for base. It probes the known
// extensions against the stem, then falls back to the most recently modified
// audio file in the same directory (single level).
func ResolveAudioFile(base string) (string, bool) {
	if path, ok := ProbeStem(base); ok {
		return path, true
	}

	entries, err := os.ReadDir(filepath.Dir(base))
	if err != nil {
		return "", false
	}
	var (
		newest    string
		newestMod int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !IsAudioFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = filepath.Join(filepath.Dir(base), entry.Name())
			newestMod = mod
		}
	}
	return newest, newest != ""
}
