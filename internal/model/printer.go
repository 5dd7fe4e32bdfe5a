package model

import "time"

// PrinterStatus is the readiness reported by the OS spooler.
type PrinterStatus string

const (
	PrinterIdle     PrinterStatus = "idle"
	PrinterBusy     PrinterStatus = "busy"
	PrinterDisabled PrinterStatus = "disabled"
	PrinterUnknown  PrinterStatus = "unknown"
)

// PrinterDescriptor is read from the spooler at query time and never cached.
// Capabilities are only present when the backend could read them.
type PrinterDescriptor struct {
	Name      string        `json:"name"`
	IsDefault bool          `json:"is_default"`
	Status    PrinterStatus `json:"status"`
	*PrinterCapabilities
}

// PrinterCapabilities come from the printer's driver options.
type PrinterCapabilities struct {
	SupportsColor bool     `json:"supports_color"`
	PaperSizes    []string `json:"paper_sizes,omitempty"`
}

// JobID identifies a submitted job. It comes from the spooler when it reports
// one, otherwise it is generated locally.
type JobID string

// PrintJob lives for a single request.
type PrintJob struct {
	FileName string
	Data     []byte
	Printer  string // empty means the OS default
	Copies   int
}

// --- API Payloads ---

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type PrintersResponse struct {
	Printers []PrinterDescriptor `json:"printers"`
}

type PrintResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// BridgeStatus is what the desktop shell shows about the running bridge.
type BridgeStatus struct {
	Active            bool      `json:"active"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	Version           string    `json:"version"`
	RequestsProcessed uint64    `json:"requests_processed"`
	StartedAt         time.Time `json:"started_at,omitempty"`
}
