package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrCrawlTimeout marks a crawl that hit the website's configured timeout.
// Timeouts are terminal for the generation, not retried.
var ErrCrawlTimeout = errors.New("crawl timed out")

// CrawlOptions describes one invocation of the external extraction tool.
type CrawlOptions struct {
	URL       string
	Include   string
	Exclude   string
	MaxPages  int
	Headless  bool
	OutputDir string
}

// crawlerArgs builds the argument list for the extraction tool.
func crawlerArgs(opts CrawlOptions) []string {
	args := []string{"--url", opts.URL, "--output", opts.OutputDir}

	if opts.Include != "" {
		args = append(args, "--include", opts.Include)
	}
	if opts.Exclude != "" {
		args = append(args, "--exclude", opts.Exclude)
	}
	if opts.MaxPages > 0 {
		args = append(args, "--max-pages", strconv.Itoa(opts.MaxPages))
	}
	if opts.Headless {
		args = append(args, "--driver", "playwright")
	} else {
		args = append(args, "--driver", "http")
	}

	return args
}

// RunCrawler invokes the extraction tool and waits for it to exit. The
// caller bounds the run with a deadline on ctx; hitting it yields
// ErrCrawlTimeout. Any other non-zero exit carries the tail of the tool's
// output for diagnostics.
func RunCrawler(ctx context.Context, bin string, opts CrawlOptions) error {
	cmd := exec.CommandContext(ctx, bin, crawlerArgs(opts)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w for %s", ErrCrawlTimeout, opts.URL)
	}
	return fmt.Errorf("extraction tool failed: %w: %s", err, outputTail(out.String(), 512))
}

// outputTail returns at most n trailing bytes of tool output, trimmed.
func outputTail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
