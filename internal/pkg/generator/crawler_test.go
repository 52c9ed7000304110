package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrawlerArgs(t *testing.T) {
	args := crawlerArgs(CrawlOptions{
		URL:       "https://example.com",
		OutputDir: "/tmp/out",
	})
	assert.Equal(t, []string{"--url", "https://example.com", "--output", "/tmp/out", "--driver", "http"}, args)

	args = crawlerArgs(CrawlOptions{
		URL:       "https://example.com",
		OutputDir: "/tmp/out",
		Include:   "/docs/*",
		Exclude:   "/blog/*",
		MaxPages:  200,
		Headless:  true,
	})
	assert.Equal(t, []string{
		"--url", "https://example.com",
		"--output", "/tmp/out",
		"--include", "/docs/*",
		"--exclude", "/blog/*",
		"--max-pages", "200",
		"--driver", "playwright",
	}, args)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-crawl")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRunCrawlerSuccess(t *testing.T) {
	// Argument order is fixed: the output directory is the fourth argument.
	bin := writeScript(t, `mkdir -p "$4" && printf '# Docs' > "$4/llms.txt"`)
	out := t.TempDir()

	err := RunCrawler(context.Background(), bin, CrawlOptions{URL: "https://example.com", OutputDir: out})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(out, "llms.txt"))
	assert.NoError(t, err)
}

func TestRunCrawlerTimeoutClassification(t *testing.T) {
	bin := writeScript(t, "sleep 10")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := RunCrawler(ctx, bin, CrawlOptions{URL: "https://example.com", OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrawlTimeout)
}

func TestRunCrawlerFailureCarriesOutput(t *testing.T) {
	bin := writeScript(t, `echo "connection refused" >&2; exit 3`)

	err := RunCrawler(context.Background(), bin, CrawlOptions{URL: "https://example.com", OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCrawlTimeout)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOutputTail(t *testing.T) {
	assert.Equal(t, "short", outputTail("  short \n", 512))

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	tail := outputTail(string(long), 512)
	assert.Len(t, tail, 515, "tail plus ellipsis prefix")
}
