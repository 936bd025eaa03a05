// Package ingest implements the ingestion core: content-hash
// deduplication across the combined primary/derived namespace, the OCR
// routing decision, artifact persistence and the per-record lifecycle
// operations with their counters.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renderinc/ocrhive/internal/blobstore"
	"github.com/renderinc/ocrhive/internal/hashing"
	"github.com/renderinc/ocrhive/internal/metrics"
	"github.com/renderinc/ocrhive/internal/ocr"
	"github.com/renderinc/ocrhive/internal/record"
	"github.com/renderinc/ocrhive/internal/search"
	"github.com/renderinc/ocrhive/internal/storage"
)

// ErrInvalidMimeType rejects uploads whose declared type is not in the
// allow-list.
var ErrInvalidMimeType = errors.New("invalid mime type")

// ErrNotFound is returned by lifecycle operations on unknown record ids.
var ErrNotFound = errors.New("record not found")

// DerivedCollisionError aborts an ingestion whose freshly generated PDF
// hashes to content already claimed by another record. The caller gets the
// existing record and decides whether to use it.
type DerivedCollisionError struct {
	Existing *record.Record
}

func (e *DerivedCollisionError) Error() string {
	return fmt.Sprintf("derived pdf collides with record %d", e.Existing.ID)
}

// Outcome distinguishes how an upload resolved.
type Outcome string

const (
	// OutcomeCreated means a new record was created.
	OutcomeCreated Outcome = "created"
	// OutcomeDuplicate means the bytes matched an existing record's
	// primary hash.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDuplicateDerived means the bytes matched an existing
	// record's derived-PDF hash.
	OutcomeDuplicateDerived Outcome = "duplicate_pdf"
)

// Result is a successful ingestion outcome.
type Result struct {
	Record  *record.Record
	Outcome Outcome
}

// DefaultAllowedMimeTypes is the upload allow-list.
var DefaultAllowedMimeTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/bmp",
	"image/tiff",
}

// Config assembles an Ingestor.
type Config struct {
	DB      *storage.DB
	Blobs   blobstore.Store
	Backend ocr.Backend

	// Index receives extracted text for full-text search. Optional.
	Index *search.Index

	// Counters defaults to a fresh set.
	Counters *metrics.Counters

	Logger *slog.Logger

	StoreOriginalFiles bool
	StorePdfArtifacts  bool

	// AllowedMimeTypes defaults to DefaultAllowedMimeTypes.
	AllowedMimeTypes []string

	// TextDetector overrides the NeedsOCR readability heuristic.
	TextDetector func(string) bool
}

// Ingestor runs the ingestion protocol and the record lifecycle operations.
type Ingestor struct {
	db         *storage.DB
	blobs      blobstore.Store
	engine     *DecisionEngine
	index      *search.Index
	counters   *metrics.Counters
	logger     *slog.Logger
	allowed    map[string]bool
	storeFiles bool
	storePDFs  bool
	locks      keyedLocks
}

// New assembles an Ingestor from cfg.
func New(cfg Config) *Ingestor {
	counters := cfg.Counters
	if counters == nil {
		counters = metrics.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowedList := cfg.AllowedMimeTypes
	if allowedList == nil {
		allowedList = DefaultAllowedMimeTypes
	}
	allowed := make(map[string]bool, len(allowedList))
	for _, m := range allowedList {
		allowed[m] = true
	}
	return &Ingestor{
		db:    cfg.DB,
		blobs: cfg.Blobs,
		engine: &DecisionEngine{
			Backend:      cfg.Backend,
			GeneratePDF:  cfg.StorePdfArtifacts,
			TextDetector: cfg.TextDetector,
			Logger:       logger,
		},
		index:      cfg.Index,
		counters:   counters,
		logger:     logger,
		allowed:    allowed,
		storeFiles: cfg.StoreOriginalFiles,
		storePDFs:  cfg.StorePdfArtifacts,
	}
}

// Counters exposes the ingestor's counters.
func (in *Ingestor) Counters() *metrics.Counters { return in.counters }

var blobExt = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/bmp":       ".bmp",
	"image/tiff":      ".tif",
}

func fileKey(hash, mimeType string) string {
	return "upload/" + hash + blobExt[mimeType]
}

func pdfKey(hash string) string {
	return "pdf/" + hash + ".pdf"
}

// Ingest runs the full protocol on one upload: validate the declared type,
// dedupe against the combined hash namespace, route through the decision
// engine, persist artifacts and commit the record.
//
// Duplicate content is not an error: the existing record is returned with
// a duplicate outcome. A collision of the freshly derived PDF with someone
// else's content aborts with DerivedCollisionError and persists nothing.
func (in *Ingestor) Ingest(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if !in.allowed[mimeType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMimeType, mimeType)
	}

	primary := hashing.Hash(data)
	existing, err := in.db.FindByHash(primary)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{Record: existing, Outcome: duplicateOutcome(existing, primary)}, nil
	}

	dec, err := in.engine.Process(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}

	rec := &record.Record{
		PrimaryHash: primary,
		MimeType:    mimeType,
		Text:        &dec.Text,
		Metadata:    dec.Metadata,
		FileSlot:    record.NewSlot(in.storeFiles),
		PdfSlot:     record.NewSlot(in.storePDFs),
	}
	if dec.OcrPerformed {
		now := time.Now().UTC()
		rec.OcredAt = &now
	}

	if dec.DerivedPDF != nil {
		derivedHash := hashing.Hash(dec.DerivedPDF)
		collider, err := in.db.FindByHash(derivedHash)
		if err != nil {
			return nil, err
		}
		if collider != nil {
			return nil, &DerivedCollisionError{Existing: collider}
		}
		rec.DerivedHash = derivedHash
	}

	// Artifacts are content-addressed, so writing them before the record
	// commit is safe: if we lose the creation race the winner's artifacts
	// live under the same keys and nothing needs undoing.
	if in.storeFiles {
		key := fileKey(primary, mimeType)
		if err := in.blobs.Put(key, data); err != nil {
			return nil, fmt.Errorf("store original: %w", err)
		}
		if err := rec.FileSlot.MarkPresent(key); err != nil {
			return nil, err
		}
	}
	if dec.DerivedPDF != nil {
		key := pdfKey(primary)
		if err := in.blobs.Put(key, dec.DerivedPDF); err != nil {
			return nil, fmt.Errorf("store derived pdf: %w", err)
		}
		if err := rec.PdfSlot.MarkPresent(key); err != nil {
			return nil, err
		}
	}

	if err := in.db.CreateRecord(rec); err != nil {
		if errors.Is(err, storage.ErrHashConflict) {
			// Lost a check-then-act race; resolve to the winner.
			winner, qerr := in.db.FindByHash(primary)
			if qerr != nil {
				return nil, qerr
			}
			if winner != nil {
				return &Result{Record: winner, Outcome: duplicateOutcome(winner, primary)}, nil
			}
			if rec.DerivedHash != "" {
				collider, qerr := in.db.FindByHash(rec.DerivedHash)
				if qerr != nil {
					return nil, qerr
				}
				if collider != nil {
					return nil, &DerivedCollisionError{Existing: collider}
				}
			}
		}
		return nil, err
	}

	in.counters.IncCreations()
	in.indexRecord(rec)
	in.logger.Info("record created",
		"id", rec.ID, "mime", mimeType, "hash", primary, "ocred", dec.OcrPerformed)
	return &Result{Record: rec, Outcome: OutcomeCreated}, nil
}

func duplicateOutcome(rec *record.Record, hash string) Outcome {
	if rec.PrimaryHash == hash {
		return OutcomeDuplicate
	}
	return OutcomeDuplicateDerived
}

// Get retrieves a record by id.
func (in *Ingestor) Get(id int64) (*record.Record, error) {
	rec, err := in.db.Get(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// RemoveFile deletes the stored original bytes. Removing an artifact that
// is already removed, policy-disabled or missing from storage reports
// removed=false without error.
func (in *Ingestor) RemoveFile(ctx context.Context, id int64) (bool, error) {
	defer in.locks.lock(id)()

	rec, err := in.Get(id)
	if err != nil {
		return false, err
	}
	if !rec.CanRemoveFile(in.blobs) {
		in.warnInconsistent(rec, rec.FileSlot, "file")
		return false, nil
	}
	if err := in.blobs.Delete(rec.FileSlot.Key); err != nil {
		return false, fmt.Errorf("delete original: %w", err)
	}
	rec.FileSlot.MarkRemoved()
	if err := in.db.UpdateFileSlot(id, rec.FileSlot); err != nil {
		return false, err
	}
	in.counters.IncFileRemovals()
	in.logger.Info("original removed", "id", id)
	return true, nil
}

// RemovePdf deletes the stored derived PDF. The derived hash claim is kept
// so re-uploads of those bytes still dedupe here. Same no-op semantics as
// RemoveFile.
func (in *Ingestor) RemovePdf(ctx context.Context, id int64) (bool, error) {
	defer in.locks.lock(id)()

	rec, err := in.Get(id)
	if err != nil {
		return false, err
	}
	if !rec.CanRemovePdf(in.blobs) {
		in.warnInconsistent(rec, rec.PdfSlot, "pdf")
		return false, nil
	}
	if err := in.blobs.Delete(rec.PdfSlot.Key); err != nil {
		return false, fmt.Errorf("delete derived pdf: %w", err)
	}
	rec.PdfSlot.MarkRemoved()
	if err := in.db.UpdatePdfSlot(id, rec.PdfSlot); err != nil {
		return false, err
	}
	in.counters.IncPdfRemovals()
	in.logger.Info("derived pdf removed", "id", id)
	return true, nil
}

// CreatePdf regenerates the derived PDF from the stored original bytes.
// It reports created=false without error when regeneration is not
// applicable: slot already present or policy-disabled, source bytes gone,
// or a native-text PDF (no OCR output exists to attach).
func (in *Ingestor) CreatePdf(ctx context.Context, id int64) (bool, error) {
	defer in.locks.lock(id)()

	rec, err := in.Get(id)
	if err != nil {
		return false, err
	}
	if !in.storePDFs || !rec.CanCreatePdf(in.blobs) {
		return false, nil
	}

	data, err := in.blobs.Get(rec.FileSlot.Key)
	if err != nil {
		return false, fmt.Errorf("read original: %w", err)
	}
	dec, err := in.engine.Process(ctx, data, rec.MimeType)
	if err != nil {
		return false, err
	}
	if dec.DerivedPDF == nil {
		return false, nil
	}

	derivedHash := hashing.Hash(dec.DerivedPDF)
	if derivedHash != rec.DerivedHash {
		collider, err := in.db.FindByHash(derivedHash)
		if err != nil {
			return false, err
		}
		if collider != nil && collider.ID != id {
			return false, &DerivedCollisionError{Existing: collider}
		}
	}

	key := pdfKey(rec.PrimaryHash)
	if err := in.blobs.Put(key, dec.DerivedPDF); err != nil {
		return false, fmt.Errorf("store derived pdf: %w", err)
	}
	if err := in.db.AttachDerivedPDF(id, derivedHash, key, &dec.Text); err != nil {
		// The key is ours alone (primary hash), so the blob written above
		// is an orphan once the hash claim fails.
		if derr := in.blobs.Delete(key); derr != nil {
			in.logger.Warn("orphaned derived pdf not cleaned up", "id", id, "key", key, "error", derr)
		}
		if errors.Is(err, storage.ErrHashConflict) {
			collider, qerr := in.db.FindByHash(derivedHash)
			if qerr == nil && collider != nil {
				return false, &DerivedCollisionError{Existing: collider}
			}
		}
		return false, err
	}

	rec.DerivedHash = derivedHash
	rec.Text = &dec.Text
	rec.PdfSlot = record.ArtifactSlot{State: record.SlotPresent, Key: key}
	in.counters.IncPdfCreations()
	in.indexRecord(rec)
	in.logger.Info("derived pdf created", "id", id, "hash", derivedHash)
	return true, nil
}

// Delete removes both artifact slots (tolerating already-gone bytes) and
// then erases the record and its hash claims.
func (in *Ingestor) Delete(ctx context.Context, id int64) error {
	defer in.locks.lock(id)()

	rec, err := in.Get(id)
	if err != nil {
		return err
	}
	if rec.CanRemoveFile(in.blobs) {
		if err := in.blobs.Delete(rec.FileSlot.Key); err != nil {
			return fmt.Errorf("delete original: %w", err)
		}
		in.counters.IncFileRemovals()
	}
	if rec.CanRemovePdf(in.blobs) {
		if err := in.blobs.Delete(rec.PdfSlot.Key); err != nil {
			return fmt.Errorf("delete derived pdf: %w", err)
		}
		in.counters.IncPdfRemovals()
	}
	if err := in.db.DeleteRecord(id); err != nil {
		return err
	}
	if in.index != nil {
		if err := in.index.Delete(search.DocID(id)); err != nil {
			in.logger.Warn("deindex failed", "id", id, "error", err)
		}
	}
	in.counters.IncDeletions()
	in.logger.Info("record deleted", "id", id)
	return nil
}

// PurgeFiles removes the stored original of every record. Per-record
// operations are independent; records whose file is already gone are
// skipped. Returns the number of artifacts removed.
func (in *Ingestor) PurgeFiles(ctx context.Context) (int, error) {
	return in.bulk(ctx, func(ctx context.Context, id int64) (bool, error) {
		return in.RemoveFile(ctx, id)
	})
}

// PurgePdfs removes the stored derived PDF of every record.
func (in *Ingestor) PurgePdfs(ctx context.Context) (int, error) {
	return in.bulk(ctx, func(ctx context.Context, id int64) (bool, error) {
		return in.RemovePdf(ctx, id)
	})
}

// CreatePdfs regenerates derived PDFs for every record where regeneration
// is applicable. Derived collisions on individual records are logged and
// skipped rather than aborting the sweep.
func (in *Ingestor) CreatePdfs(ctx context.Context) (int, error) {
	return in.bulk(ctx, func(ctx context.Context, id int64) (bool, error) {
		ok, err := in.CreatePdf(ctx, id)
		var collision *DerivedCollisionError
		if errors.As(err, &collision) {
			in.logger.Warn("skipping derived collision",
				"id", id, "existing", collision.Existing.ID)
			return false, nil
		}
		return ok, err
	})
}

const bulkConcurrency = 4

func (in *Ingestor) bulk(ctx context.Context, op func(context.Context, int64) (bool, error)) (int, error) {
	recs, err := in.db.ListAll()
	if err != nil {
		return 0, err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	var done atomic.Int64
	for _, rec := range recs {
		g.Go(func() error {
			ok, err := op(ctx, rec.ID)
			if errors.Is(err, ErrNotFound) {
				// Deleted concurrently; nothing to do.
				return nil
			}
			if err != nil {
				return err
			}
			if ok {
				done.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	return int(done.Load()), nil
}

func (in *Ingestor) warnInconsistent(rec *record.Record, slot record.ArtifactSlot, kind string) {
	if slot.State == record.SlotPresent {
		in.logger.Warn("slot marked present but bytes missing from storage",
			"id", rec.ID, "slot", kind, "key", slot.Key)
	}
}

func (in *Ingestor) indexRecord(rec *record.Record) {
	if in.index == nil {
		return
	}
	doc := &search.IndexedDocument{
		ID:         search.DocID(rec.ID),
		MimeType:   rec.MimeType,
		UploadedAt: rec.UploadedAt,
	}
	if rec.Text != nil {
		doc.Text = *rec.Text
	}
	if rec.Metadata != nil {
		doc.Title = rec.Metadata.Title
		doc.Author = rec.Metadata.Author
	}
	if err := in.index.IndexDocument(doc); err != nil {
		// The index is derivable state; a failed write is repaired by the
		// reindex command, not by failing the ingestion.
		in.logger.Warn("index write failed", "id", rec.ID, "error", err)
	}
}

// ParseID parses a record id from its string form.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}
