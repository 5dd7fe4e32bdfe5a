package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// powerShellGateway talks to the Windows spooler through PowerShell.
type powerShellGateway struct {
	*spooler
}

const listPrintersScript = `Get-CimInstance -ClassName Win32_Printer | ` +
	`Select-Object Name,Default,PrinterStatus,WorkOffline | ConvertTo-Json -Compress`

// win32Printer mirrors the selected Win32_Printer properties.
type win32Printer struct {
	Name          string `json:"Name"`
	Default       bool   `json:"Default"`
	PrinterStatus int    `json:"PrinterStatus"`
	WorkOffline   bool   `json:"WorkOffline"`
}

func (g *powerShellGateway) List(ctx context.Context) ([]model.PrinterDescriptor, error) {
	stdout, _, err := g.powershell(ctx, listPrintersScript)
	if err != nil {
		if isClassified(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: Win32_Printer query: %v", model.ErrSpoolerUnavailable, err)
	}
	printers, err := parseWin32Printers(stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSpoolerUnavailable, err)
	}
	return printers, nil
}

// Submit prints each copy separately: neither Out-Printer nor the PrintTo verb
// takes a copy count. Windows gives no job id back, so a local one is used.
func (g *powerShellGateway) Submit(ctx context.Context, job model.PrintJob) (model.JobID, error) {
	copies, err := jobCopies(job)
	if err != nil {
		return "", err
	}

	printers, err := g.List(ctx)
	if err != nil {
		return "", err
	}
	printer, err := resolvePrinter(job.Printer, printers)
	if err != nil {
		return "", err
	}

	err = g.withTempFile(ctx, job, func(path string) error {
		script := printScript(path, printer, handlerWait(g.timeout))
		for i := 0; i < copies; i++ {
			if _, _, err := g.powershell(ctx, script); err != nil {
				if isClassified(err) {
					return err
				}
				return model.SubmissionFailed("spooler_rejected", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	id := model.JobID(g.ids.New())
	g.logger.Info("job handed to spooler",
		"job_id", id,
		"printer", printer,
		"copies", copies,
		"bytes", len(job.Data),
	)
	return id, nil
}

func (g *powerShellGateway) powershell(ctx context.Context, script string) ([]byte, []byte, error) {
	return g.exec(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
}

// printScript sends plain text straight to the printer and everything else
// through the shell's PrintTo verb. Apps like Acrobat stay open after
// printing, so the handler is given at most wait to exit and is then left
// running; only a failure to launch it is an error.
func printScript(path, printer string, wait time.Duration) string {
	if strings.EqualFold(Extension(path), "txt") {
		return fmt.Sprintf("Get-Content -Raw -LiteralPath %s | Out-Printer -Name %s",
			psQuote(path), psQuote(printer))
	}
	return fmt.Sprintf("$ErrorActionPreference = 'Stop'; "+
		"$p = Start-Process -FilePath %s -Verb PrintTo -ArgumentList %s -WindowStyle Hidden -PassThru; "+
		"if ($p) { $null = $p.WaitForExit(%d) }",
		psQuote(path), psQuote(`"`+printer+`"`), wait.Milliseconds())
}

// handlerWait leaves half of the spooler timeout for the PrintTo handler, so
// the PowerShell call itself returns before its deadline.
func handlerWait(timeout time.Duration) time.Duration {
	wait := timeout / 2
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// psQuote wraps s in a PowerShell single-quoted literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// parseWin32Printers accepts ConvertTo-Json output, which is a bare object for
// a single printer, an array for several and empty for none.
func parseWin32Printers(out []byte) ([]model.PrinterDescriptor, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var raw []win32Printer
	if out[0] == '{' {
		var single win32Printer
		if err := json.Unmarshal(out, &single); err != nil {
			return nil, fmt.Errorf("decoding printer: %w", err)
		}
		raw = append(raw, single)
	} else if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decoding printers: %w", err)
	}

	printers := make([]model.PrinterDescriptor, 0, len(raw))
	for _, p := range raw {
		printers = append(printers, model.PrinterDescriptor{
			Name:      p.Name,
			IsDefault: p.Default,
			Status:    win32Status(p),
		})
	}
	return printers, nil
}

// win32Status maps Win32_Printer.PrinterStatus codes.
func win32Status(p win32Printer) model.PrinterStatus {
	if p.WorkOffline {
		return model.PrinterDisabled
	}
	switch p.PrinterStatus {
	case 3:
		return model.PrinterIdle
	case 4, 5:
		return model.PrinterBusy
	case 6, 7:
		return model.PrinterDisabled
	}
	return model.PrinterUnknown
}
