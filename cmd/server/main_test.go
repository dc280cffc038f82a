package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "jobs", "cache"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("missing %s command: %v", name, err)
		}
	}
}

func TestPrintJobsRendersTable(t *testing.T) {
	var out bytes.Buffer
	printJobs(&out, []*types.Job{{
		ID:        "abc",
		URL:       "https://www.bilibili.com/video/BV1xx",
		Provider:  "openai",
		Status:    types.StatusDone,
		CreatedAt: time.Now(),
	}})
	text := out.String()
	for _, want := range []string{"ID", "abc", "done", "openai"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	out.Reset()
	printJobs(&out, nil)
	if strings.TrimSpace(out.String()) != "No jobs" {
		t.Fatalf("empty output = %q", out.String())
	}
}

func TestPrintJobPrefersFormattedText(t *testing.T) {
	var out bytes.Buffer
	printJob(&out, &types.Job{ID: "abc", Status: types.StatusDone, RawText: "raw", FormattedText: "formatted"})
	if !strings.Contains(out.String(), "formatted") || strings.Contains(out.String(), "\nraw") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate = %q", got)
	}
}
