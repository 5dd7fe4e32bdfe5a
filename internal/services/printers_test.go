package services

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
	"github.com/Riboost-Studio/print-my-bridge/internal/testutil"
)

const lpstatOutput = `printer Office is idle.  enabled since Mon 01 Jan 2024 10:00:00 AM UTC
printer Label now printing Label-12.  enabled since Mon 01 Jan 2024 10:00:00 AM UTC
printer Old disabled since Tue 02 Jan 2024 09:00:00 AM UTC -
	reason unknown
system default destination: Office
`

type fixedIDs string

func (id fixedIDs) New() string { return string(id) }

type stubRenderer struct {
	pdf []byte
	err error
}

func (r stubRenderer) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	return r.pdf, r.err
}

func newTestCUPS(t *testing.T, runner *testutil.FakeRunner, opts GatewayOptions) (*cupsGateway, string) {
	t.Helper()
	dir := t.TempDir()
	opts.Runner = runner
	opts.TempDir = dir
	if opts.IDs == nil {
		opts.IDs = fixedIDs("local-1")
	}
	return &cupsGateway{spooler: newSpooler(opts)}, dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %d", len(entries))
	}
}

func TestNewPrinterGatewayPicksBackend(t *testing.T) {
	g, err := NewPrinterGateway("linux", GatewayOptions{})
	if err != nil {
		t.Fatalf("linux: %v", err)
	}
	if _, ok := g.(*cupsGateway); !ok {
		t.Fatalf("linux gateway is %T", g)
	}
	g, err = NewPrinterGateway("windows", GatewayOptions{})
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	if _, ok := g.(*powerShellGateway); !ok {
		t.Fatalf("windows gateway is %T", g)
	}
	if _, err := NewPrinterGateway("plan9", GatewayOptions{}); err == nil {
		t.Fatal("expected error for unsupported OS")
	}
}

func TestParseLpstat(t *testing.T) {
	printers := parseLpstat([]byte(lpstatOutput))
	want := []model.PrinterDescriptor{
		{Name: "Office", IsDefault: true, Status: model.PrinterIdle},
		{Name: "Label", Status: model.PrinterBusy},
		{Name: "Old", Status: model.PrinterDisabled},
	}
	if len(printers) != len(want) {
		t.Fatalf("got %d printers, want %d: %+v", len(printers), len(want), printers)
	}
	for i := range want {
		if printers[i] != want[i] {
			t.Errorf("printer %d = %+v, want %+v", i, printers[i], want[i])
		}
	}
}

func TestParseLpoptions(t *testing.T) {
	out := []byte(`PageSize/Media Size: *Letter Legal A4 Letter Env10
Duplex/2-Sided Printing: *None DuplexNoTumble DuplexTumble
ColorModel/Color Mode: Gray *RGB
`)
	caps := parseLpoptions(out)
	if !caps.SupportsColor {
		t.Error("SupportsColor = false, want true")
	}
	want := []string{"Letter", "Legal", "A4", "Env10"}
	if strings.Join(caps.PaperSizes, ",") != strings.Join(want, ",") {
		t.Errorf("PaperSizes = %v, want %v", caps.PaperSizes, want)
	}

	mono := parseLpoptions([]byte("ColorModel/Color Mode: *Gray\n"))
	if mono.SupportsColor {
		t.Error("grayscale printer reported as color")
	}
	if strings.Join(mono.PaperSizes, ",") != "A4,Letter" {
		t.Errorf("fallback PaperSizes = %v", mono.PaperSizes)
	}
}

func TestCUPSListReportsCapabilities(t *testing.T) {
	runner := testutil.NewFakeRunner().
		On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
		On("lpoptions", testutil.RunResult{Stdout: "PageSize/Media Size: *A4 A5\nColorModel/Color Mode: *CMYK Gray\n"})
	g, _ := newTestCUPS(t, runner, GatewayOptions{})

	printers, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, p := range printers {
		if p.PrinterCapabilities == nil {
			t.Fatalf("%s has no capabilities", p.Name)
		}
		if !p.SupportsColor || strings.Join(p.PaperSizes, ",") != "A4,A5" {
			t.Fatalf("%s capabilities = %+v", p.Name, *p.PrinterCapabilities)
		}
	}
	calls := runner.CallsTo("lpoptions")
	if len(calls) != 3 || calls[0].Joined() != "lpoptions -p Office -l" {
		t.Fatalf("lpoptions calls = %v", calls)
	}
}

func TestCUPSListWithoutLpoptions(t *testing.T) {
	runner := testutil.NewFakeRunner().
		On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
		On("lpoptions", testutil.RunResult{Err: exec.ErrNotFound})
	g, _ := newTestCUPS(t, runner, GatewayOptions{})

	printers, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(printers) != 3 || printers[0].PrinterCapabilities != nil {
		t.Fatalf("unexpected printers: %+v", printers)
	}
}

func TestCUPSListIsRepeatable(t *testing.T) {
	runner := testutil.NewFakeRunner().On("lpstat", testutil.RunResult{Stdout: lpstatOutput})
	g, _ := newTestCUPS(t, runner, GatewayOptions{})

	first, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	second, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List again: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("got %d then %d printers", len(first), len(second))
	}
	if calls := len(runner.CallsTo("lpstat")); calls != 2 {
		t.Fatalf("lpstat called %d times, want 2 (no caching)", calls)
	}
}

func TestCUPSListNoDestinations(t *testing.T) {
	runner := testutil.NewFakeRunner().On("lpstat", testutil.RunResult{
		Stderr: "lpstat: No destinations added.",
		Err:    errors.New("exit status 1"),
	})
	g, _ := newTestCUPS(t, runner, GatewayOptions{})

	printers, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(printers) != 0 {
		t.Fatalf("got %d printers, want none", len(printers))
	}

	_, err = g.Submit(context.Background(), model.PrintJob{FileName: "a.pdf", Data: []byte("%PDF")})
	if !errors.Is(err, model.ErrNoPrinterAvailable) {
		t.Fatalf("Submit: got %v, want ErrNoPrinterAvailable", err)
	}
}

func TestCUPSListSpoolerUnavailable(t *testing.T) {
	tests := []struct {
		name string
		res  testutil.RunResult
	}{
		{name: "binary missing", res: testutil.RunResult{Err: exec.ErrNotFound}},
		{name: "scheduler down", res: testutil.RunResult{
			Stderr: "lpstat: Scheduler is not running.",
			Err:    errors.New("exit status 1"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := testutil.NewFakeRunner().On("lpstat", tt.res)
			g, _ := newTestCUPS(t, runner, GatewayOptions{})
			if _, err := g.List(context.Background()); !errors.Is(err, model.ErrSpoolerUnavailable) {
				t.Fatalf("got %v, want ErrSpoolerUnavailable", err)
			}
		})
	}
}

func TestCUPSSubmit(t *testing.T) {
	runner := testutil.NewFakeRunner().
		On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
		On("lp", testutil.RunResult{Stdout: "request id is Label-42 (1 file(s))\n"})
	g, dir := newTestCUPS(t, runner, GatewayOptions{})

	id, err := g.Submit(context.Background(), model.PrintJob{
		FileName: "report.pdf",
		Data:     []byte("%PDF-1.7"),
		Printer:  "Label",
		Copies:   2,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "Label-42" {
		t.Fatalf("job id = %q, want Label-42", id)
	}

	calls := runner.CallsTo("lp")
	if len(calls) != 1 {
		t.Fatalf("lp called %d times", len(calls))
	}
	call := calls[0]
	args := call.Joined()
	if !strings.Contains(args, "-d Label") || !strings.Contains(args, "-n 2") || !strings.Contains(args, "-t report.pdf") {
		t.Fatalf("unexpected lp invocation: %s", args)
	}
	path := call.Args[len(call.Args)-1]
	if !call.FileExisted {
		t.Fatalf("temp file %s did not exist while lp ran", path)
	}
	if !strings.HasSuffix(path, ".pdf") {
		t.Fatalf("temp file %s lost its extension", path)
	}
	assertEmptyDir(t, dir)
}

func TestCUPSSubmitUsesOSDefaultAndLocalID(t *testing.T) {
	runner := testutil.NewFakeRunner().
		On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
		On("lp", testutil.RunResult{Stdout: ""})
	g, _ := newTestCUPS(t, runner, GatewayOptions{})

	id, err := g.Submit(context.Background(), model.PrintJob{FileName: "a.txt", Data: []byte("hi")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "local-1" {
		t.Fatalf("job id = %q, want local id", id)
	}
	args := runner.CallsTo("lp")[0].Joined()
	if !strings.Contains(args, "-d Office") || !strings.Contains(args, "-n 1") {
		t.Fatalf("unexpected lp invocation: %s", args)
	}
}

func TestCUPSSubmitErrors(t *testing.T) {
	tests := []struct {
		name string
		job  model.PrintJob
		lp   testutil.RunResult
		want error
	}{
		{
			name: "unknown printer",
			job:  model.PrintJob{FileName: "a.pdf", Printer: "Ghost", Copies: 1},
			want: model.ErrPrinterNotFound,
		},
		{
			name: "negative copies",
			job:  model.PrintJob{FileName: "a.pdf", Copies: -1},
			want: model.ErrInvalidCopies,
		},
		{
			name: "lp reports missing queue",
			job:  model.PrintJob{FileName: "a.pdf", Printer: "Office"},
			lp: testutil.RunResult{
				Stderr: "lp: The printer or class does not exist.",
				Err:    errors.New("exit status 1"),
			},
			want: model.ErrPrinterNotFound,
		},
		{
			name: "lp rejects job",
			job:  model.PrintJob{FileName: "a.pdf", Printer: "Office"},
			lp: testutil.RunResult{
				Stderr: "lp: Unsupported document-format.",
				Err:    errors.New("exit status 1"),
			},
			want: model.ErrSubmissionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := testutil.NewFakeRunner().
				On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
				On("lp", tt.lp)
			g, dir := newTestCUPS(t, runner, GatewayOptions{})

			if _, err := g.Submit(context.Background(), tt.job); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestCUPSSubmitTimeout(t *testing.T) {
	runner := testutil.NewFakeRunner().
		On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
		On("lp", testutil.RunResult{Block: true})
	g, dir := newTestCUPS(t, runner, GatewayOptions{SpoolerTimeout: 50 * time.Millisecond})

	_, err := g.Submit(context.Background(), model.PrintJob{FileName: "a.pdf", Data: []byte("x")})
	var subErr *model.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("got %v, want SubmissionError", err)
	}
	if subErr.Reason != "timeout" {
		t.Fatalf("reason = %q, want timeout", subErr.Reason)
	}
	assertEmptyDir(t, dir)
}

func TestCUPSSubmitRendersHTML(t *testing.T) {
	tests := []struct {
		name     string
		renderer HTMLRenderer
		suffix   string
	}{
		{name: "rendered", renderer: stubRenderer{pdf: []byte("%PDF")}, suffix: ".pdf"},
		{name: "render failed", renderer: stubRenderer{err: errors.New("no chrome")}, suffix: ".html"},
		{name: "no renderer", suffix: ".html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := testutil.NewFakeRunner().
				On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
				On("lp", testutil.RunResult{Stdout: "request id is Office-1 (1 file(s))"})
			g, _ := newTestCUPS(t, runner, GatewayOptions{Renderer: tt.renderer})

			if _, err := g.Submit(context.Background(), model.PrintJob{FileName: "menu.html", Data: []byte("<p>hi</p>")}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			call := runner.CallsTo("lp")[0]
			if path := call.Args[len(call.Args)-1]; !strings.HasSuffix(path, tt.suffix) {
				t.Fatalf("spooled %s, want suffix %s", path, tt.suffix)
			}
		})
	}
}

type hangingRenderer struct{}

func (hangingRenderer) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCUPSSubmitBoundsHTMLRender(t *testing.T) {
	runner := testutil.NewFakeRunner().
		On("lpstat", testutil.RunResult{Stdout: lpstatOutput}).
		On("lp", testutil.RunResult{Stdout: "request id is Office-2 (1 file(s))"})
	g, dir := newTestCUPS(t, runner, GatewayOptions{
		Renderer:       hangingRenderer{},
		SpoolerTimeout: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	id, err := g.Submit(ctx, model.PrintJob{FileName: "menu.html", Data: []byte("<p>hi</p>")})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("render held the request for %v", elapsed)
	}
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "Office-2" {
		t.Fatalf("job id = %q", id)
	}
	call := runner.CallsTo("lp")[0]
	if path := call.Args[len(call.Args)-1]; !strings.HasSuffix(path, ".html") {
		t.Fatalf("spooled %s, want raw html after render timeout", path)
	}
	assertEmptyDir(t, dir)
}

func TestCUPSSubmitRenderStopsWithCaller(t *testing.T) {
	runner := testutil.NewFakeRunner().On("lpstat", testutil.RunResult{Stdout: lpstatOutput})
	g, dir := newTestCUPS(t, runner, GatewayOptions{
		Renderer:       hangingRenderer{},
		SpoolerTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := g.Submit(ctx, model.PrintJob{FileName: "menu.html", Data: []byte("<p>hi</p>")})
	var subErr *model.SubmissionError
	if !errors.As(err, &subErr) || subErr.Reason != "timeout" {
		t.Fatalf("got %v, want SubmissionFailed(timeout)", err)
	}
	if n := len(runner.CallsTo("lp")); n != 0 {
		t.Fatalf("lp called %d times after the caller gave up", n)
	}
	assertEmptyDir(t, dir)
}

func TestRunBlockingReleasesSlot(t *testing.T) {
	pool := newBlockingPool(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := runBlocking(ctx, pool, func() (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}

	got, err := runBlocking(context.Background(), pool, func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("second run = %d, %v", got, err)
	}
}
