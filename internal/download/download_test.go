package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestResolveAudioFilePrefersStemInProbeOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "job-1")
	now := time.Now()
	touch(t, base+".webm", now)
	touch(t, base+".m4a", now.Add(-time.Hour))

	got, ok := ResolveAudioFile(base)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != base+".m4a" {
		t.Fatalf("got %s, want the .m4a stem match", got)
	}
}

func TestResolveAudioFileFallsBackToNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "old.mp3"), now.Add(-2*time.Hour))
	touch(t, filepath.Join(dir, "new.opus"), now)
	touch(t, filepath.Join(dir, "notes.txt"), now.Add(time.Hour))

	got, ok := ResolveAudioFile(filepath.Join(dir, "job-2"))
	if !ok {
		t.Fatal("expected fallback match")
	}
	if filepath.Base(got) != "new.opus" {
		t.Fatalf("got %s, want new.opus", got)
	}
}

func TestResolveAudioFileNoCandidates(t *testing.T) {
	if _, ok := ResolveAudioFile(filepath.Join(t.TempDir(), "job-3")); ok {
		t.Fatal("expected no match in empty dir")
	}
}

func TestArgsUseOutputTemplate(t *testing.T) {
	d := NewYtDlp(Options{}, nil)
	args := d.args("https://www.bilibili.com/video/BV1xy", "/tmp/x/job-4")
	if args[len(args)-1] != "https://www.bilibili.com/video/BV1xy" {
		t.Fatalf("url must be last: %v", args)
	}
	found := false
	for i, a := range args {
		if a == "-o" && args[i+1] == "job-4.%(ext)s" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing output template: %v", args)
	}
}

func TestDownloadWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ytdlp")
	// writes <template with %(ext)s replaced by m4a> in the working directory
	body := "#!/bin/sh\nfor a in \"$@\"; do if [ \"$prev\" = \"-o\" ]; then out=$a; fi; prev=$a; done\n" +
		"name=$(echo \"$out\" | sed 's/%(ext)s/m4a/')\necho data > \"$name\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewYtDlp(Options{Binary: script}, nil)
	base := filepath.Join(dir, "out", "job-5")
	path, err := d.Download(context.Background(), "https://www.bilibili.com/video/BV1xy", base)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != base+".m4a" {
		t.Fatalf("path = %s", path)
	}
}

func TestDownloadFailureIsTransportError(t *testing.T) {
	d := NewYtDlp(Options{Binary: filepath.Join(t.TempDir(), "missing-binary")}, nil)
	_, err := d.Download(context.Background(), "https://www.bilibili.com/video/BV1xy", filepath.Join(t.TempDir(), "job-6"))
	if !errors.Is(err, types.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
