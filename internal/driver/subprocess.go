package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// DefaultRunnerName is looked up next to the service binary when no runner path is configured.
const DefaultRunnerName = "jobrunner"

// drainTimeout bounds how long the relay keeps reading after the runner has exited.
// Step processes that outlive the runner can hold the pipe open.
const drainTimeout = 5 * time.Second

// RunnerDriver executes plans by spawning the job runner as a local subprocess.
type RunnerDriver struct {
	command []string
	cwd     string
	env     []string
	logger  *slog.Logger
}

// RunnerConfig holds configuration for the runner driver.
type RunnerConfig struct {
	// Command is the argv prefix; the plan path is appended (default: [DefaultRunnerPath()])
	Command []string

	// CWD is the working directory for the runner (empty = inherit)
	CWD string

	// Env is appended to the inherited environment
	Env []string

	Logger *slog.Logger
}

// DefaultRunnerPath returns the jobrunner binary next to the running executable,
// falling back to a PATH lookup.
func DefaultRunnerPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultRunnerName
	}
	return filepath.Join(filepath.Dir(exe), DefaultRunnerName)
}

// NewRunnerDriver creates a new runner driver.
func NewRunnerDriver(cfg *RunnerConfig) *RunnerDriver {
	if cfg == nil {
		cfg = &RunnerConfig{}
	}
	command := cfg.Command
	if len(command) == 0 {
		command = []string{DefaultRunnerPath()}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RunnerDriver{
		command: command,
		cwd:     cfg.CWD,
		env:     cfg.Env,
		logger:  logger,
	}
}

// Command returns the configured argv prefix.
func (d *RunnerDriver) Command() []string {
	return append([]string(nil), d.command...)
}

// Run spawns the runner and relays its output to sink until it exits.
func (d *RunnerDriver) Run(ctx context.Context, runID, planPath string, sink EventSink) int {
	logger := d.logger.With("run_id", runID)
	relay := &relay{runID: runID, sink: sink, logger: logger}

	argv := append(d.Command(), planPath)
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = append(os.Environ(), d.env...)
	c.Env = append(c.Env, "RUN_ID="+runID)
	if d.cwd != "" {
		c.Dir = d.cwd
	}

	// One pipe for both streams keeps the runner's write order intact.
	pr, pw, err := os.Pipe()
	if err != nil {
		relay.finish(-1, fmt.Errorf("create pipe: %w", err))
		return -1
	}
	c.Stdout = pw
	c.Stderr = pw

	if err := c.Start(); err != nil {
		pw.Close()
		pr.Close()
		relay.finish(-1, fmt.Errorf("start runner: %w", err))
		return -1
	}
	// The child holds its own copy of the write end.
	pw.Close()

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	logger.Info("runner started", "pid", c.Process.Pid, "plan", planPath)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		relay.read(pr)
	}()

	waitErr := c.Wait()

	select {
	case <-readDone:
	case <-time.After(drainTimeout):
		logger.Warn("runner output still open after exit; closing")
		pr.Close()
		<-readDone
	}
	pr.Close()

	code := exitCode(waitErr)
	var reason error
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			reason = waitErr
		}
	}
	relay.finish(code, reason)
	logger.Info("runner exited", "exit_code", code)
	return code
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// relay turns runner output lines into events for one run.
// read and finish must not run concurrently.
type relay struct {
	runID    string
	sink     EventSink
	logger   *slog.Logger
	sawDone  bool
	finished bool
}

// MaxLineLen caps one relayed output line; the excess is dropped.
const MaxLineLen = 1 << 20

func (r *relay) read(src io.Reader) {
	br := bufio.NewReaderSize(src, 64*1024)
	line := make([]byte, 0, 4096)
	dropped := 0

	for {
		chunk, err := br.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		take := min(len(chunk), MaxLineLen-len(line))
		line = append(line, chunk[:take]...)
		dropped += len(chunk) - take

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(line) > 0 || dropped > 0 {
			r.relayLine(line, dropped)
		}
		line, dropped = line[:0], 0

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.logger.Warn("runner output read failed", "error", err)
				r.emit(types.NewLogEvent(fmt.Sprintf("[RELAY] runner output unreadable: %v", err), types.LogLevelError))
			}
			return
		}
	}
}

func (r *relay) relayLine(line []byte, dropped int) {
	text := string(line)
	if dropped > 0 {
		r.logger.Warn("runner output line truncated", "kept", len(line), "dropped", dropped)
		text += fmt.Sprintf(" [truncated %d bytes]", dropped)
	}
	r.handleLine(text)
}

func (r *relay) handleLine(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}

	if !types.IsStructuredLine(line) {
		r.emit(types.NewLogEvent(line, ""))
		return
	}

	evt, err := types.ParseRunnerLine(r.runID, line)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, types.ErrUnsupportedVersion) {
			reason = "version"
		}
		metrics.RunnerParseErrors.WithLabelValues(reason).Inc()
		r.logger.Warn("unparseable runner event", "line", line, "error", err)
		r.emit(types.NewLogEvent(fmt.Sprintf("[RELAY] %v: %s", err, line), types.LogLevelError))
		return
	}

	if evt.IsTerminal() {
		if r.sawDone {
			r.logger.Warn("duplicate done event from runner ignored")
			return
		}
		r.sawDone = true
	}
	r.emit(evt)
}

func (r *relay) emit(evt types.Event) {
	if r.sink != nil {
		r.sink.Enqueue(evt)
	}
}

// finish guarantees the run ends with exactly one done event.
func (r *relay) finish(code int, reason error) {
	if r.finished {
		return
	}
	r.finished = true

	if r.sawDone {
		return
	}

	metrics.SynthesizedDone.Inc()
	if reason != nil {
		r.logger.Error("runner failed", "error", reason)
		r.emit(types.NewLogEvent(fmt.Sprintf("[RELAY] %v", reason), types.LogLevelError))
	} else {
		level := types.LogLevelError
		if code == 0 {
			level = types.LogLevelWarning
		}
		r.emit(types.NewLogEvent(fmt.Sprintf("[RELAY] runner exited with code %d without reporting completion", code), level))
	}

	var exit *int
	if code >= 0 {
		exit = types.IntPtr(code)
	}
	status := types.RunStatusFailed
	if code == 0 && reason == nil {
		status = types.RunStatusSucceeded
	}
	r.sawDone = true
	r.emit(types.NewDoneEvent(status, exit))
}
