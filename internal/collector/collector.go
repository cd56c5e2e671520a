// Package collector implements one domain collector per data domain. Each
// collector owns its transport fallback chain and pushes normalized entity
// updates through the shared pipeline.
package collector

import (
	"context"
	"errors"

	"github.com/unraid-agent/internal/source"
)

// ScanClass is one of the three independently scheduled polling cadences.
type ScanClass string

const (
	ScanPrimary ScanClass = "primary"
	ScanUPS     ScanClass = "ups"
	ScanSystem  ScanClass = "system"
)

// Collector is the core interface every domain collector implements.
type Collector interface {
	Name() string
	Init() error
	Collect(ctx context.Context) error
	Close() error
}

// skipNotApplicable turns a chain result where no transport applied into a
// clean no-op. A server without the optional source for a domain simply
// publishes nothing for it.
func skipNotApplicable(err error) error {
	if errors.Is(err, source.ErrNotApplicable) {
		return nil
	}
	return err
}
