package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
	"github.com/Riboost-Studio/print-my-bridge/internal/services"
)

const (
	// multipartMemory is how much of a form Go keeps in memory before
	// spilling file parts to disk.
	multipartMemory = 32 << 20
	// multipartOverhead covers boundaries and part headers on top of the
	// file ceiling.
	multipartOverhead = 1 << 20
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:  "ok",
		Service: ServiceName,
		Version: s.version,
	})
}

func (s *Server) listPrinters(w http.ResponseWriter, r *http.Request) {
	printers, err := s.gateway.List(r.Context())
	if err != nil {
		// Only spooler-level categories are meaningful here.
		if !errors.Is(err, model.ErrSpoolerUnavailable) && !errors.Is(err, model.ErrSubmissionFailed) {
			err = fmt.Errorf("%w: %v", model.ErrSpoolerUnavailable, err)
		}
		s.writeError(w, r, "list_printers", err)
		return
	}
	if printers == nil {
		printers = []model.PrinterDescriptor{}
	}
	writeJSON(w, http.StatusOK, model.PrintersResponse{Printers: printers})
}

func (s *Server) print(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()
	validator := s.uploads.Load()

	form, err := s.readForm(w, r, cfg, validator)
	if err != nil {
		s.writeError(w, r, "print", err)
		return
	}
	defer form.RemoveAll()

	copies, err := parseCopies(formValue(form, "copies"))
	if err != nil {
		s.writeError(w, r, "print", err)
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		s.writeError(w, r, "print", fmt.Errorf("%w: missing file field", model.ErrInvalidRequest))
		return
	}
	header := files[0]
	if err := validator.Validate(header.Filename, header.Size); err != nil {
		s.writeError(w, r, "print", err)
		return
	}

	data, err := readPart(header)
	if err != nil {
		s.writeError(w, r, "print", err)
		return
	}

	printer := strings.TrimSpace(formValue(form, "printer"))
	if printer == "" {
		printer = cfg.DefaultPrinter
	}
	job := model.PrintJob{
		FileName: header.Filename,
		Data:     data,
		Printer:  printer,
		Copies:   copies,
	}

	id, err := s.gateway.Submit(r.Context(), job)
	if err != nil {
		s.events.Publish(model.JobEvent{
			Type:     model.MessageTypeJobFailed,
			Printer:  printer,
			FileName: job.FileName,
			Copies:   copies,
			Code:     mapError(err).code,
		})
		s.writeError(w, r, "print", err)
		return
	}

	s.events.Publish(model.JobEvent{
		Type:     model.MessageTypeJobSubmitted,
		JobID:    string(id),
		Printer:  printer,
		FileName: job.FileName,
		Copies:   copies,
	})
	writeJSON(w, http.StatusOK, model.PrintResponse{
		Success: true,
		Message: "job submitted",
		JobID:   string(id),
	})
}

// readForm parses the multipart body with a size cap and a read deadline.
// The deadline is only lifted once the body has been read in full; on error
// the connection is closed so a half-sent body is never drained.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request, cfg model.BridgeConfig, validator *services.UploadValidator) (*multipart.Form, error) {
	rc := http.NewResponseController(w)
	// Not every ResponseWriter supports deadlines (httptest does not);
	// MaxBytesReader still bounds the read there.
	_ = rc.SetReadDeadline(time.Now().Add(cfg.UploadTimeout.Std()))

	r.Body = http.MaxBytesReader(w, r.Body, validator.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		w.Header().Set("Connection", "close")
		return nil, classifyReadError(err)
	}
	_ = rc.SetReadDeadline(time.Time{})
	return r.MultipartForm, nil
}

func classifyReadError(err error) error {
	var maxErr *http.MaxBytesError
	var netErr net.Error
	switch {
	case errors.As(err, &maxErr):
		return fmt.Errorf("%w: %v", model.ErrTooLarge, err)
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return model.SubmissionFailed("timeout", err)
	}
	return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	return data, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseCopies defaults to 1 and rejects anything that is not a positive integer.
func parseCopies(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidCopies, raw)
	}
	return n, nil
}

// streamEvents upgrades to a WebSocket of job events. Non-browser clients
// authenticate with the Authorization header; browsers offer the token as a
// subprotocol (see wsTokenProtocol), which is answered with "bearer".
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{wsTokenProtocol},
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return origin == "" || s.cors.Load().allows(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.WarnContext(r.Context(), "event stream upgrade failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		return
	}
	s.events.Serve(s.streamCtx, conn)
}
