package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lrstanley/go-ytdlp"
)

const stderrTailLines = 5

// Options configures how yt-dlp is invoked.
type Options struct {
	Executable string
	Proxy      string
}

// Command returns a yt-dlp command carrying the shared flags.
func (o Options) Command() *ytdlp.Command {
	cmd := ytdlp.New().NoWarnings().IgnoreConfig()
	if o.Executable != "" {
		cmd.SetExecutable(o.Executable)
	}
	if o.Proxy != "" {
		cmd.Proxy(o.Proxy)
	}
	return cmd
}

// Runner produces an audio file at outputPath from sourceURL. Every line
// the process writes is passed to logLine.
type Runner interface {
	Run(ctx context.Context, sourceURL, outputPath string, logLine func(stream, line string)) error
}

// ProcessError is returned when the extraction process exits unsuccessfully.
type ProcessError struct {
	Err    error
	Stderr string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// YtdlpRunner runs `yt-dlp -x --audio-format mp3 -o <out> <url>`.
type YtdlpRunner struct {
	Options Options
}

func (r YtdlpRunner) Run(ctx context.Context, sourceURL, outputPath string, logLine func(stream, line string)) error {
	cmd := r.Options.Command().
		ExtractAudio().
		AudioFormat("mp3").
		Output(outputPath).
		BuildCommand(ctx, sourceURL)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	var tail lineTail
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(outR, func(l string) { logLine("stdout", l) })
	}()
	go func() {
		defer wg.Done()
		scanLines(errR, func(l string) {
			tail.add(l)
			logLine("stderr", l)
		})
	}()

	if err := cmd.Start(); err != nil {
		outW.Close()
		errW.Close()
		wg.Wait()
		return &ProcessError{Err: fmt.Errorf("spawn yt-dlp: %w", err)}
	}

	err := cmd.Wait()
	outW.Close()
	errW.Close()
	wg.Wait()

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		return &ProcessError{Err: err, Stderr: tail.String()}
	}
	return nil
}

func scanLines(r io.Reader, fn func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			fn(l)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

type lineTail struct {
	mu    sync.Mutex
	lines []string
}

func (t *lineTail) add(l string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, l)
	if len(t.lines) > stderrTailLines {
		t.lines = t.lines[len(t.lines)-stderrTailLines:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
