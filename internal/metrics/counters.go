// Package metrics exposes process-lifetime counters for the ingestion core.
// Counters reset at process start and are incremented exactly once per
// logical transition.
package metrics

import "sync/atomic"

// Counters tracks record and artifact lifecycle transitions.
type Counters struct {
	creations    atomic.Int64
	deletions    atomic.Int64
	fileRemovals atomic.Int64
	pdfRemovals  atomic.Int64
	pdfCreations atomic.Int64
}

// New returns zeroed counters.
func New() *Counters { return &Counters{} }

func (c *Counters) IncCreations()    { c.creations.Add(1) }
func (c *Counters) IncDeletions()    { c.deletions.Add(1) }
func (c *Counters) IncFileRemovals() { c.fileRemovals.Add(1) }
func (c *Counters) IncPdfRemovals()  { c.pdfRemovals.Add(1) }
func (c *Counters) IncPdfCreations() { c.pdfCreations.Add(1) }

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Creations    int64 `json:"creations"`
	Deletions    int64 `json:"deletions"`
	FileRemovals int64 `json:"file_removals"`
	PdfRemovals  int64 `json:"pdf_removals"`
	PdfCreations int64 `json:"pdf_creations"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Creations:    c.creations.Load(),
		Deletions:    c.deletions.Load(),
		FileRemovals: c.fileRemovals.Load(),
		PdfRemovals:  c.pdfRemovals.Load(),
		PdfCreations: c.pdfCreations.Load(),
	}
}
