// Package storage persists records in SQLite. The combined dedup namespace
// (every record's primary and derived content hash) lives in its own table
// whose primary key is the hash value, so uniqueness across both hash kinds
// is enforced by the database, not by application-level checks.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/renderinc/ocrhive/internal/record"
)

// ErrHashConflict is returned when an insert collides with an existing
// primary or derived hash. Concurrent identical uploads surface here; the
// caller re-queries for the winning record.
var ErrHashConflict = errors.New("content hash already claimed")

// DB wraps SQLite database operations.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Foreign keys and WAL mode for better concurrency.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &DB{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		primary_hash TEXT NOT NULL UNIQUE,
		derived_hash TEXT,
		mime_type TEXT NOT NULL,
		text TEXT,
		uploaded_at TIMESTAMP NOT NULL,
		ocred_at TIMESTAMP,
		pdf_page_count INTEGER,
		pdf_author TEXT,
		pdf_creation_date TEXT,
		pdf_creator TEXT,
		pdf_mod_date TEXT,
		pdf_producer TEXT,
		pdf_title TEXT,
		file_state TEXT NOT NULL,
		file_key TEXT NOT NULL DEFAULT '',
		pdf_state TEXT NOT NULL,
		pdf_key TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS content_hashes (
		hash TEXT PRIMARY KEY,
		record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		kind TEXT NOT NULL CHECK (kind IN ('primary', 'derived'))
	);

	CREATE INDEX IF NOT EXISTS idx_hashes_record ON content_hashes(record_id);
	CREATE INDEX IF NOT EXISTS idx_uploaded ON records(uploaded_at);
	`
	_, err := d.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// CreateRecord inserts rec and claims its hashes in one transaction. A
// collision on any hash (primary or derived, either kind on the existing
// side) returns ErrHashConflict and persists nothing.
//
// Re-invoking on an already-created record is a no-op: creation stamps
// UploadedAt and ID exactly once.
func (d *DB) CreateRecord(rec *record.Record) error {
	if rec.ID != 0 || !rec.UploadedAt.IsZero() {
		return nil
	}
	now := time.Now().UTC()

	var pageCount, author, creationDate, creator, modDate, producer, title any
	if m := rec.Metadata; m != nil {
		pageCount = m.PageCount
		author = m.Author
		creationDate = m.CreationDate
		creator = m.Creator
		modDate = m.ModDate
		producer = m.Producer
		title = m.Title
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
	INSERT INTO records (
		primary_hash, derived_hash, mime_type, text, uploaded_at, ocred_at,
		pdf_page_count, pdf_author, pdf_creation_date, pdf_creator,
		pdf_mod_date, pdf_producer, pdf_title,
		file_state, file_key, pdf_state, pdf_key
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PrimaryHash, nullStr(rec.DerivedHash), rec.MimeType, rec.Text,
		now, rec.OcredAt,
		pageCount, author, creationDate, creator, modDate, producer, title,
		string(rec.FileSlot.State), rec.FileSlot.Key,
		string(rec.PdfSlot.State), rec.PdfSlot.Key,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert record: %w", ErrHashConflict)
		}
		return fmt.Errorf("insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("record id: %w", err)
	}

	if err := claimHash(tx, rec.PrimaryHash, id, "primary"); err != nil {
		return err
	}
	if rec.DerivedHash != "" {
		if err := claimHash(tx, rec.DerivedHash, id, "derived"); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	rec.ID = id
	rec.UploadedAt = now
	return nil
}

func claimHash(tx *sql.Tx, hash string, recordID int64, kind string) error {
	_, err := tx.Exec(
		`INSERT INTO content_hashes (hash, record_id, kind) VALUES (?, ?, ?)`,
		hash, recordID, kind,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("claim %s hash: %w", kind, ErrHashConflict)
		}
		return fmt.Errorf("claim %s hash: %w", kind, err)
	}
	return nil
}

const recordColumns = `
	id, primary_hash, derived_hash, mime_type, text, uploaded_at, ocred_at,
	pdf_page_count, pdf_author, pdf_creation_date, pdf_creator,
	pdf_mod_date, pdf_producer, pdf_title,
	file_state, file_key, pdf_state, pdf_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	rec := &record.Record{}
	var (
		derivedHash sql.NullString
		fileState   string
		pdfState    string
		pageCount   sql.NullInt64
		pdfStrings  [6]sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.PrimaryHash, &derivedHash, &rec.MimeType, &rec.Text,
		&rec.UploadedAt, &rec.OcredAt,
		&pageCount, &pdfStrings[0], &pdfStrings[1], &pdfStrings[2],
		&pdfStrings[3], &pdfStrings[4], &pdfStrings[5],
		&fileState, &rec.FileSlot.Key, &pdfState, &rec.PdfSlot.Key,
	)
	if err != nil {
		return nil, err
	}
	rec.DerivedHash = derivedHash.String
	rec.FileSlot.State = record.SlotState(fileState)
	rec.PdfSlot.State = record.SlotState(pdfState)
	if pageCount.Valid {
		rec.Metadata = &record.PdfMetadata{
			PageCount:    int(pageCount.Int64),
			Author:       pdfStrings[0].String,
			CreationDate: pdfStrings[1].String,
			Creator:      pdfStrings[2].String,
			ModDate:      pdfStrings[3].String,
			Producer:     pdfStrings[4].String,
			Title:        pdfStrings[5].String,
		}
	}
	return rec, nil
}

// Get retrieves a record by id, or nil if it does not exist.
func (d *DB) Get(id int64) (*record.Record, error) {
	row := d.db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// FindByHash resolves a content hash against the combined namespace: it
// matches the record whose primary or derived hash equals hash, or nil.
func (d *DB) FindByHash(hash string) (*record.Record, error) {
	row := d.db.QueryRow(`
	SELECT `+recordColumns+`
	FROM records
	WHERE id = (SELECT record_id FROM content_hashes WHERE hash = ?)`, hash)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return rec, nil
}

// List retrieves up to limit records, newest first.
func (d *DB) List(limit int) ([]*record.Record, error) {
	rows, err := d.db.Query(
		`SELECT `+recordColumns+` FROM records ORDER BY uploaded_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListAll retrieves every record, oldest first. Used by bulk maintenance
// and index rebuilds.
func (d *DB) ListAll() ([]*record.Record, error) {
	rows, err := d.db.Query(`SELECT ` + recordColumns + ` FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*record.Record, error) {
	var recs []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the total number of records.
func (d *DB) Count() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}

// UpdateFileSlot persists the file slot state of a record.
func (d *DB) UpdateFileSlot(id int64, slot record.ArtifactSlot) error {
	_, err := d.db.Exec(
		`UPDATE records SET file_state = ?, file_key = ? WHERE id = ?`,
		string(slot.State), slot.Key, id,
	)
	if err != nil {
		return fmt.Errorf("update file slot: %w", err)
	}
	return nil
}

// UpdatePdfSlot persists the pdf slot state of a record. The derived hash
// claim is intentionally left in place on removal so future uploads of the
// same derived bytes still dedupe to this record.
func (d *DB) UpdatePdfSlot(id int64, slot record.ArtifactSlot) error {
	_, err := d.db.Exec(
		`UPDATE records SET pdf_state = ?, pdf_key = ? WHERE id = ?`,
		string(slot.State), slot.Key, id,
	)
	if err != nil {
		return fmt.Errorf("update pdf slot: %w", err)
	}
	return nil
}

// AttachDerivedPDF records a regenerated derived PDF: it replaces the
// record's derived hash claim, marks the pdf slot Present under key and
// stores the freshly recognized text. Returns ErrHashConflict if another
// record owns the new hash.
func (d *DB) AttachDerivedPDF(id int64, hash, key string, text *string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM content_hashes WHERE record_id = ? AND kind = 'derived' AND hash <> ?`,
		id, hash,
	); err != nil {
		return fmt.Errorf("release derived hash: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO content_hashes (hash, record_id, kind) VALUES (?, ?, 'derived')
		 ON CONFLICT(hash) DO NOTHING`,
		hash, id,
	); err != nil {
		return fmt.Errorf("claim derived hash: %w", err)
	}
	// The hash row must now belong to this record; if another record owns
	// it the insert above was a silent no-op.
	var owner int64
	if err := tx.QueryRow(
		`SELECT record_id FROM content_hashes WHERE hash = ?`, hash,
	).Scan(&owner); err != nil {
		return fmt.Errorf("verify derived hash: %w", err)
	}
	if owner != id {
		return fmt.Errorf("claim derived hash: %w", ErrHashConflict)
	}
	if _, err := tx.Exec(
		`UPDATE records SET derived_hash = ?, pdf_state = ?, pdf_key = ?, text = ? WHERE id = ?`,
		hash, string(record.SlotPresent), key, text, id,
	); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return tx.Commit()
}

// DeleteRecord erases the record and releases its hash claims.
func (d *DB) DeleteRecord(id int64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM content_hashes WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("release hashes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return tx.Commit()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
