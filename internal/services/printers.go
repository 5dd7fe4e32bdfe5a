package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// PrinterGateway is the bridge's view of the OS print subsystem.
type PrinterGateway interface {
	// List queries the spooler on every call.
	List(ctx context.Context) ([]model.PrinterDescriptor, error)
	// Submit hands the job to the spooler and returns without waiting for it
	// to print.
	Submit(ctx context.Context, job model.PrintJob) (model.JobID, error)
}

// CommandRunner executes spooler tools. Tests replace it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs real processes with a fixed C locale so their output can be
// parsed.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C", "LANG=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// IDGenerator produces local job identifiers.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// GatewayOptions configures either backend.
type GatewayOptions struct {
	Runner         CommandRunner
	Renderer       HTMLRenderer // optional; HTML is spooled as-is without it
	IDs            IDGenerator
	SpoolerTimeout time.Duration
	MaxConcurrent  int
	TempDir        string
	Logger         *slog.Logger
}

// NewPrinterGateway picks the backend for goos (normally runtime.GOOS).
func NewPrinterGateway(goos string, opts GatewayOptions) (PrinterGateway, error) {
	base := newSpooler(opts)
	switch goos {
	case "windows":
		return &powerShellGateway{spooler: base}, nil
	case "darwin", "linux", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos":
		return &cupsGateway{spooler: base}, nil
	default:
		return nil, fmt.Errorf("printing is not supported on %s", goos)
	}
}

// spooler holds what both backends share: the blocking pool, the timeout and
// the scoped temp file handling.
type spooler struct {
	runner   CommandRunner
	renderer HTMLRenderer
	ids      IDGenerator
	timeout  time.Duration
	tempDir  string
	pool     *blockingPool
	logger   *slog.Logger
}

func newSpooler(opts GatewayOptions) *spooler {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.SpoolerTimeout <= 0 {
		opts.SpoolerTimeout = model.DefaultSpoolerTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &spooler{
		runner:   opts.Runner,
		renderer: opts.Renderer,
		ids:      opts.IDs,
		timeout:  opts.SpoolerTimeout,
		tempDir:  opts.TempDir,
		pool:     newBlockingPool(opts.MaxConcurrent),
		logger:   opts.Logger.With("module", "printers"),
	}
}

type commandResult struct {
	stdout []byte
	stderr []byte
}

// exec runs one spooler command off the request goroutine with a bounded wait.
// A missing binary is ErrSpoolerUnavailable and an expired deadline is
// SubmissionFailed("timeout"); other failures come back unclassified together
// with stderr.
func (s *spooler) exec(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := runBlocking(ctx, s.pool, func() (commandResult, error) {
		stdout, stderr, err := s.runner.Run(ctx, name, args...)
		return commandResult{stdout: stdout, stderr: stderr}, err
	})
	switch {
	case err == nil:
		return res.stdout, res.stderr, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, nil, model.SubmissionFailed("timeout", err)
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, nil, model.SubmissionFailed("canceled", err)
	case errors.Is(err, exec.ErrNotFound):
		return nil, nil, fmt.Errorf("%w: %s: %v", model.ErrSpoolerUnavailable, name, err)
	}
	return res.stdout, res.stderr, err
}

// withTempFile writes the job to a temp file, runs fn on its path and removes
// the file on every path out.
func (s *spooler) withTempFile(ctx context.Context, job model.PrintJob, fn func(path string) error) error {
	data, ext, err := s.prepare(ctx, job)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.tempDir, "print-my-bridge-*"+ext)
	if err != nil {
		return model.SubmissionFailed("temp_file", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove temp file", "error", err)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return model.SubmissionFailed("temp_file", err)
	}
	if err := f.Close(); err != nil {
		return model.SubmissionFailed("temp_file", err)
	}
	return fn(path)
}

// prepare renders HTML to PDF when a renderer is available. The render runs
// in the blocking pool under the spooler timeout; a failed or timed out render
// falls back to spooling the HTML itself. It only fails when ctx has ended.
func (s *spooler) prepare(ctx context.Context, job model.PrintJob) ([]byte, string, error) {
	ext := Extension(job.FileName)
	if (ext == "html" || ext == "htm") && s.renderer != nil {
		renderCtx, cancel := context.WithTimeout(ctx, s.timeout)
		pdf, err := runBlocking(renderCtx, s.pool, func() ([]byte, error) {
			return s.renderer.RenderPDF(renderCtx, job.Data)
		})
		cancel()
		switch {
		case err == nil:
			return pdf, ".pdf", nil
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, "", model.SubmissionFailed("timeout", err)
		case ctx.Err() != nil:
			return nil, "", model.SubmissionFailed("canceled", err)
		}
		s.logger.Warn("html render failed, spooling raw html", "file", job.FileName, "error", err)
	}
	if ext == "" {
		return job.Data, "", nil
	}
	return job.Data, "." + ext, nil
}

func jobCopies(job model.PrintJob) (int, error) {
	switch {
	case job.Copies == 0:
		return 1, nil
	case job.Copies < 0:
		return 0, model.ErrInvalidCopies
	}
	return job.Copies, nil
}

// resolvePrinter applies the explicit name if given, else the OS default.
func resolvePrinter(requested string, printers []model.PrinterDescriptor) (string, error) {
	if requested != "" {
		for _, p := range printers {
			if p.Name == requested {
				return p.Name, nil
			}
		}
		return "", fmt.Errorf("%w: %q", model.ErrPrinterNotFound, requested)
	}
	for _, p := range printers {
		if p.IsDefault {
			return p.Name, nil
		}
	}
	return "", model.ErrNoPrinterAvailable
}

// isClassified reports whether exec already mapped err to the taxonomy.
func isClassified(err error) bool {
	return errors.Is(err, model.ErrSubmissionFailed) || errors.Is(err, model.ErrSpoolerUnavailable)
}

// blockingPool bounds how many spooler processes run at once.
type blockingPool struct {
	slots chan struct{}
}

func newBlockingPool(size int) *blockingPool {
	return &blockingPool{slots: make(chan struct{}, size)}
}

// runBlocking runs fn in its own goroutine once a slot is free. It returns
// when fn finishes or ctx ends, whichever is first; fn is expected to honour
// ctx so its slot is released soon after.
func runBlocking[T any](ctx context.Context, p *blockingPool, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-p.slots }()
		val, err := fn()
		done <- result{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
