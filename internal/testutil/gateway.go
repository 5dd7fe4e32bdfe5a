package testutil

import (
	"context"
	"sync"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// FakeGateway is an in-memory PrinterGateway that records submissions.
type FakeGateway struct {
	mu        sync.Mutex
	Printers  []model.PrinterDescriptor
	ListErr   error
	SubmitErr error
	NextID    model.JobID
	Submitted []model.PrintJob
}

func NewFakeGateway(printers ...model.PrinterDescriptor) *FakeGateway {
	return &FakeGateway{Printers: printers, NextID: "job-1"}
}

func (g *FakeGateway) List(ctx context.Context) ([]model.PrinterDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	out := make([]model.PrinterDescriptor, len(g.Printers))
	copy(out, g.Printers)
	return out, nil
}

func (g *FakeGateway) Submit(ctx context.Context, job model.PrintJob) (model.JobID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Submitted = append(g.Submitted, job)
	if g.SubmitErr != nil {
		return "", g.SubmitErr
	}
	return g.NextID, nil
}

// Jobs returns a copy of the recorded submissions.
func (g *FakeGateway) Jobs() []model.PrintJob {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.PrintJob, len(g.Submitted))
	copy(out, g.Submitted)
	return out
}
