package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// cupsGateway drives the CUPS command line tools (lpstat, lp), available on
// macOS, Linux and the BSDs.
type cupsGateway struct {
	*spooler
}

var lpRequestID = regexp.MustCompile(`request id is (\S+)`)

func (g *cupsGateway) List(ctx context.Context) ([]model.PrinterDescriptor, error) {
	out, err := g.lpstat(ctx)
	if err != nil {
		return nil, err
	}
	printers := parseLpstat(out)
	for i := range printers {
		caps, err := g.capabilities(ctx, printers[i].Name)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			g.logger.Debug("printer capabilities unavailable", "printer", printers[i].Name, "error", err)
			continue
		}
		printers[i].PrinterCapabilities = caps
	}
	return printers, nil
}

// capabilities reads `lpoptions -p <name> -l`.
func (g *cupsGateway) capabilities(ctx context.Context, name string) (*model.PrinterCapabilities, error) {
	stdout, _, err := g.exec(ctx, "lpoptions", "-p", name, "-l")
	if err != nil {
		return nil, err
	}
	return parseLpoptions(stdout), nil
}

func (g *cupsGateway) Submit(ctx context.Context, job model.PrintJob) (model.JobID, error) {
	copies, err := jobCopies(job)
	if err != nil {
		return "", err
	}

	out, err := g.lpstat(ctx)
	if err != nil {
		return "", err
	}
	printer, err := resolvePrinter(job.Printer, parseLpstat(out))
	if err != nil {
		return "", err
	}

	var id model.JobID
	err = g.withTempFile(ctx, job, func(path string) error {
		args := []string{"-d", printer, "-n", strconv.Itoa(copies)}
		if job.FileName != "" {
			args = append(args, "-t", job.FileName)
		}
		args = append(args, path)

		stdout, stderr, err := g.exec(ctx, "lp", args...)
		if err != nil {
			return classifyCUPSError(stderr, err, func(err error) error {
				return model.SubmissionFailed("spooler_rejected", err)
			})
		}
		if m := lpRequestID.FindSubmatch(stdout); m != nil {
			id = model.JobID(m[1])
		} else {
			id = model.JobID(g.ids.New())
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("job handed to spooler",
		"job_id", id,
		"printer", printer,
		"copies", copies,
		"bytes", len(job.Data),
	)
	return id, nil
}

// lpstat returns `lpstat -p -d` output. A system with no queues is an empty
// list, not a failure.
func (g *cupsGateway) lpstat(ctx context.Context) ([]byte, error) {
	stdout, stderr, err := g.exec(ctx, "lpstat", "-p", "-d")
	if err != nil {
		if bytes.Contains(stderr, []byte("No destinations added")) {
			return stdout, nil
		}
		return nil, classifyCUPSError(stderr, err, func(err error) error {
			return fmt.Errorf("%w: lpstat: %v", model.ErrSpoolerUnavailable, err)
		})
	}
	return stdout, nil
}

// classifyCUPSError maps tool stderr to the error taxonomy. Errors that are
// already classified pass through.
func classifyCUPSError(stderr []byte, err error, fallback func(error) error) error {
	if isClassified(err) {
		return err
	}
	msg := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(msg, "scheduler is not running"),
		strings.Contains(msg, "unable to connect to server"),
		strings.Contains(msg, "bad file descriptor"):
		return fmt.Errorf("%w: %v", model.ErrSpoolerUnavailable, err)
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "unknown destination"),
		strings.Contains(msg, "invalid destination"):
		return fmt.Errorf("%w: %v", model.ErrPrinterNotFound, err)
	}
	return fallback(err)
}

// parseLpstat reads `lpstat -p -d` output:
//
//	printer Office is idle.  enabled since Mon 01 Jan 2024
//	printer Label now printing Label-12.  enabled since ...
//	printer Old disabled since Tue 02 Jan 2024 -
//		reason unknown
//	system default destination: Office
func parseLpstat(out []byte) []model.PrinterDescriptor {
	var printers []model.PrinterDescriptor
	defaultName := ""

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "printer "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			printers = append(printers, model.PrinterDescriptor{
				Name:   fields[1],
				Status: lpstatStatus(strings.Join(fields[2:], " ")),
			})
		case strings.HasPrefix(line, "system default destination:"):
			defaultName = strings.TrimSpace(strings.TrimPrefix(line, "system default destination:"))
		}
	}

	for i := range printers {
		printers[i].IsDefault = printers[i].Name == defaultName
	}
	return printers
}

// defaultPaperSizes is reported when the driver lists no PageSize choices.
var defaultPaperSizes = []string{"A4", "Letter"}

// parseLpoptions reads `lpoptions -l` output, one option per line with the
// current choice starred:
//
//	PageSize/Media Size: *Letter Legal A4 Env10
//	ColorModel/Color Mode: Gray *RGB
func parseLpoptions(out []byte) *model.PrinterCapabilities {
	caps := &model.PrinterCapabilities{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, values, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		option, _, _ := strings.Cut(key, "/")
		for _, choice := range strings.Fields(values) {
			choice = strings.TrimPrefix(choice, "*")
			switch strings.TrimSpace(option) {
			case "PageSize":
				if !slices.Contains(caps.PaperSizes, choice) {
					caps.PaperSizes = append(caps.PaperSizes, choice)
				}
			case "ColorModel":
				upper := strings.ToUpper(choice)
				if strings.Contains(upper, "RGB") || strings.Contains(upper, "CMYK") || upper == "COLOR" {
					caps.SupportsColor = true
				}
			}
		}
	}

	if len(caps.PaperSizes) == 0 {
		caps.PaperSizes = slices.Clone(defaultPaperSizes)
	}
	return caps
}

func lpstatStatus(rest string) model.PrinterStatus {
	switch {
	case strings.HasPrefix(rest, "disabled"):
		return model.PrinterDisabled
	case strings.HasPrefix(rest, "is idle"):
		return model.PrinterIdle
	case strings.HasPrefix(rest, "now printing"), strings.HasPrefix(rest, "is busy"):
		return model.PrinterBusy
	}
	return model.PrinterUnknown
}
