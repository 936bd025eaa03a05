// Package search maintains a Bleve full-text index over extracted
// document text, so OCRed paper becomes findable.
package search

import (
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/renderinc/ocrhive/internal/storage"
)

// Index wraps a Bleve search index.
type Index struct {
	index bleve.Index
}

// IndexedDocument is the indexed projection of a record.
type IndexedDocument struct {
	ID         string
	MimeType   string
	Text       string
	Title      string
	Author     string
	UploadedAt time.Time
}

// SearchResult is one search hit.
type SearchResult struct {
	ID        string
	Title     string
	Author    string
	MimeType  string
	Score     float64
	Fragments map[string][]string // highlighted snippets
}

// DocID renders a record id as an index document id.
func DocID(id int64) string { return strconv.FormatInt(id, 10) }

// Open opens or creates a Bleve index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("MimeType", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Text", textFieldMapping)
	docMapping.AddFieldMappingsAt("Title", textFieldMapping)
	docMapping.AddFieldMappingsAt("Author", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexDocument adds or updates a document in the index.
func (i *Index) IndexDocument(doc *IndexedDocument) error {
	return i.index.Index(doc.ID, doc)
}

// Delete removes a document from the index.
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Search runs a query string (quotes, boolean operators and fuzzy ~ are
// supported) and returns up to limit hits with highlighted snippets.
func (i *Index) Search(queryStr string, limit int) ([]*SearchResult, error) {
	query := bleve.NewQueryStringQuery(queryStr)

	search := bleve.NewSearchRequestOptions(query, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Fields = []string{"Title", "Author", "MimeType"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []*SearchResult
	for _, hit := range results.Hits {
		result := &SearchResult{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}
		if v, ok := hit.Fields["Title"].(string); ok {
			result.Title = v
		}
		if v, ok := hit.Fields["Author"].(string); ok {
			result.Author = v
		}
		if v, ok := hit.Fields["MimeType"].(string); ok {
			result.MimeType = v
		}
		hits = append(hits, result)
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Rebuild reindexes every record from the database. progressFn may be nil.
func (i *Index) Rebuild(db *storage.DB, progressFn func(current, total int)) error {
	recs, err := db.ListAll()
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	for n, rec := range recs {
		doc := &IndexedDocument{
			ID:         DocID(rec.ID),
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
		if err := i.IndexDocument(doc); err != nil {
			return fmt.Errorf("index record %d: %w", rec.ID, err)
		}
		if progressFn != nil {
			progressFn(n+1, len(recs))
		}
	}
	return nil
}
