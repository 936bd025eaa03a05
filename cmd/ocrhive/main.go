package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/renderinc/ocrhive/internal/blobstore"
	"github.com/renderinc/ocrhive/internal/config"
	"github.com/renderinc/ocrhive/internal/ingest"
	"github.com/renderinc/ocrhive/internal/ocr"
	"github.com/renderinc/ocrhive/internal/search"
	"github.com/renderinc/ocrhive/internal/storage"
	"github.com/renderinc/ocrhive/internal/web"
)

var cfg config.Config

func main() {
	// Parse global flags
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	configFlag := globalFlags.String("config", "ocrhive.yaml", "Path to YAML config file")
	dataDirFlag := globalFlags.String("data-dir", "", "Directory for database, index and artifacts (overrides config)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Find where the command starts (skip global flags)
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}

	if commandIdx > 1 {
		globalFlags.Parse(os.Args[1:commandIdx])
	}

	var err error
	cfg, err = config.Load(*configFlag)
	if err != nil {
		fatalf("Error loading config: %v", err)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	command := os.Args[commandIdx]
	args := os.Args[commandIdx+1:]

	switch command {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		listen := serveFlags.String("listen", cfg.Listen, "host:port to bind to")
		serveFlags.Parse(args)
		runServe(*listen)
	case "ingest":
		ingestFlags := flag.NewFlagSet("ingest", flag.ExitOnError)
		mimeType := ingestFlags.String("type", "", "Declared MIME type (default: guessed from extension)")
		ingestFlags.Parse(args)
		if ingestFlags.NArg() < 1 {
			fatalf("Error: file path required\nUsage: ocrhive ingest [-type=<mime>] <path>")
		}
		runIngest(ingestFlags.Arg(0), *mimeType)
	case "list":
		listFlags := flag.NewFlagSet("list", flag.ExitOnError)
		limit := listFlags.Int("limit", 20, "Maximum number of documents to print")
		listFlags.Parse(args)
		runList(*limit)
	case "get-doc":
		if len(args) < 1 {
			fatalf("Error: document ID required\nUsage: ocrhive get-doc <id>")
		}
		runGetDoc(args[0])
	case "search":
		searchFlags := flag.NewFlagSet("search", flag.ExitOnError)
		limit := searchFlags.Int("limit", 10, "Maximum number of results")
		searchFlags.Parse(args)
		if searchFlags.NArg() < 1 {
			fatalf("Error: search query required\nUsage: ocrhive search [-limit=<n>] <query>")
		}
		runSearch(strings.Join(searchFlags.Args(), " "), *limit)
	case "remove-file", "remove-pdf", "create-pdf", "delete":
		if len(args) < 1 {
			fatalf("Error: document ID required\nUsage: ocrhive %s <id>", command)
		}
		runLifecycle(command, args[0])
	case "purge-files", "purge-pdfs", "create-pdfs":
		runBulk(command)
	case "reindex":
		runReindex()
	case "stats":
		runStats()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("ocrhive - deduplicating OCR document store")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ocrhive [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --config=<path>    YAML config file (default: ocrhive.yaml)")
	fmt.Println("  --data-dir=<dir>   Directory for database, index and artifacts")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [flags]            Start the HTTP API server")
	fmt.Println("  ingest [flags] <path>    Ingest a file from disk")
	fmt.Println("  list [flags]             List recent documents")
	fmt.Println("  get-doc <id>             Print a document's extracted text")
	fmt.Println("  search [flags] <query>   Full-text search over extracted text")
	fmt.Println("  remove-file <id>         Delete a document's original artifact")
	fmt.Println("  remove-pdf <id>          Delete a document's searchable PDF")
	fmt.Println("  create-pdf <id>          Regenerate a document's searchable PDF")
	fmt.Println("  delete <id>              Delete a document entirely")
	fmt.Println("  purge-files              Delete original artifacts of all documents")
	fmt.Println("  purge-pdfs               Delete searchable PDFs of all documents")
	fmt.Println("  create-pdfs              Regenerate searchable PDFs for all documents")
	fmt.Println("  reindex                  Rebuild the full-text index from the database")
	fmt.Println("  stats                    Show document and index statistics")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  ocrhive serve")
	fmt.Println("  ocrhive serve -listen=0.0.0.0:8027")
	fmt.Println("  ocrhive ingest scan.png")
	fmt.Println("  ocrhive ingest -type=application/pdf report.bin")
	fmt.Println("  ocrhive search \"квартальный отчет\"")
	fmt.Println("  ocrhive --data-dir=/var/lib/ocrhive purge-files")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// env bundles the opened stores and the ingestor built over them.
type env struct {
	db       *storage.DB
	blobs    *blobstore.FS
	idx      *search.Index
	ingestor *ingest.Ingestor
}

func (e *env) close() {
	e.idx.Close()
	e.db.Close()
}

func openEnv() *env {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatalf("Error creating data directory: %v", err)
	}

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		fatalf("Error opening database: %v", err)
	}

	idx, err := search.Open(cfg.IndexPath())
	if err != nil {
		db.Close()
		fatalf("Error opening search index: %v", err)
	}

	blobs, err := blobstore.NewFS(cfg.BlobPath())
	if err != nil {
		idx.Close()
		db.Close()
		fatalf("Error opening artifact store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ing := ingest.New(ingest.Config{
		DB:                 db,
		Blobs:              blobs,
		Backend:            ocr.NewToolchain(cfg.Languages()...),
		Index:              idx,
		Logger:             logger,
		StoreOriginalFiles: cfg.StoreOriginalFiles,
		StorePdfArtifacts:  cfg.StorePdfArtifacts,
		AllowedMimeTypes:   cfg.AllowedMimeTypes,
	})
	return &env{db: db, blobs: blobs, idx: idx, ingestor: ing}
}

func runServe(listen string) {
	e := openEnv()
	defer e.close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := web.NewServer(e.db, e.blobs, e.ingestor, e.idx, logger)
	if err := srv.ListenAndServe(listen); err != nil {
		fatalf("Error: server stopped: %v", err)
	}
}

// extMimeTypes guesses a declared type from the file extension.
var extMimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

func runIngest(path, mimeType string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatalf("Error reading %s: %v", path, err)
	}
	if mimeType == "" {
		dot := strings.LastIndex(path, ".")
		if dot >= 0 {
			mimeType = extMimeTypes[strings.ToLower(path[dot:])]
		}
		if mimeType == "" {
			fatalf("Error: cannot guess MIME type of %s, pass -type", path)
		}
	}

	e := openEnv()
	defer e.close()

	res, err := e.ingestor.Ingest(context.Background(), data, mimeType)
	if err != nil {
		fatalf("Error ingesting %s: %v", path, err)
	}
	switch res.Outcome {
	case ingest.OutcomeCreated:
		fmt.Printf("Created document %d\n", res.Record.ID)
	default:
		fmt.Printf("Duplicate of document %d (%s)\n", res.Record.ID, res.Outcome)
	}
}

func runList(limit int) {
	e := openEnv()
	defer e.close()

	recs, err := e.db.List(limit)
	if err != nil {
		fatalf("Error listing documents: %v", err)
	}
	for _, rec := range recs {
		ocred := "native"
		if rec.OcredAt != nil {
			ocred = "ocr"
		}
		fmt.Printf("%6d  %-15s  %-7s  file=%s pdf=%s  %s\n",
			rec.ID, rec.MimeType, ocred,
			rec.FileSlot.State, rec.PdfSlot.State,
			rec.UploadedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%d document(s)\n", len(recs))
}

func runGetDoc(rawID string) {
	id, err := ingest.ParseID(rawID)
	if err != nil {
		fatalf("Error: invalid document ID %q", rawID)
	}

	e := openEnv()
	defer e.close()

	rec, err := e.ingestor.Get(id)
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("ID:            %d\n", rec.ID)
	fmt.Printf("MIME type:     %s\n", rec.MimeType)
	fmt.Printf("Primary hash:  %s\n", rec.PrimaryHash)
	if rec.DerivedHash != "" {
		fmt.Printf("Derived hash:  %s\n", rec.DerivedHash)
	}
	fmt.Printf("Uploaded:      %s\n", rec.UploadedAt.Format("2006-01-02 15:04:05"))
	if rec.OcredAt != nil {
		fmt.Printf("OCRed:         %s\n", rec.OcredAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("File slot:     %s\n", rec.FileSlot.State)
	fmt.Printf("PDF slot:      %s\n", rec.PdfSlot.State)
	if m := rec.Metadata; m != nil {
		fmt.Printf("Pages:         %d\n", m.PageCount)
		if m.Title != "" {
			fmt.Printf("Title:         %s\n", m.Title)
		}
		if m.Author != "" {
			fmt.Printf("Author:        %s\n", m.Author)
		}
	}
	if rec.Text != nil {
		fmt.Println()
		fmt.Println(*rec.Text)
	}
}

func runSearch(query string, limit int) {
	e := openEnv()
	defer e.close()

	results, err := e.idx.Search(query, limit)
	if err != nil {
		fatalf("Error searching: %v", err)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range results {
		fmt.Printf("%d. doc %s (score %.3f)\n", i+1, res.ID, res.Score)
		for _, fragments := range res.Fragments {
			for _, frag := range fragments {
				fmt.Printf("   %s\n", frag)
			}
		}
	}
}

func runLifecycle(command, rawID string) {
	id, err := ingest.ParseID(rawID)
	if err != nil {
		fatalf("Error: invalid document ID %q", rawID)
	}

	e := openEnv()
	defer e.close()

	ctx := context.Background()
	switch command {
	case "remove-file":
		report(e.ingestor.RemoveFile(ctx, id))
	case "remove-pdf":
		report(e.ingestor.RemovePdf(ctx, id))
	case "create-pdf":
		report(e.ingestor.CreatePdf(ctx, id))
	case "delete":
		if err := e.ingestor.Delete(ctx, id); err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Println("Deleted.")
	}
}

func report(changed bool, err error) {
	if err != nil {
		fatalf("Error: %v", err)
	}
	if changed {
		fmt.Println("Done.")
	} else {
		fmt.Println("Nothing to do.")
	}
}

func runBulk(command string) {
	e := openEnv()
	defer e.close()

	ctx := context.Background()
	var n int
	var err error
	switch command {
	case "purge-files":
		n, err = e.ingestor.PurgeFiles(ctx)
	case "purge-pdfs":
		n, err = e.ingestor.PurgePdfs(ctx)
	case "create-pdfs":
		n, err = e.ingestor.CreatePdfs(ctx)
	}
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("%d document(s) changed.\n", n)
}

func runReindex() {
	e := openEnv()
	defer e.close()

	err := e.idx.Rebuild(e.db, func(current, total int) {
		if current%100 == 0 || current == total {
			fmt.Printf("Indexed %d/%d documents\n", current, total)
		}
	})
	if err != nil {
		fatalf("Error rebuilding index: %v", err)
	}
	fmt.Println("Reindex complete.")
}

func runStats() {
	e := openEnv()
	defer e.close()

	docs, err := e.db.Count()
	if err != nil {
		fatalf("Error counting documents: %v", err)
	}
	indexed, err := e.idx.Count()
	if err != nil {
		fatalf("Error counting index entries: %v", err)
	}
	fmt.Printf("Documents:       %d\n", docs)
	fmt.Printf("Indexed:         %d\n", indexed)
	fmt.Printf("Database:        %s\n", cfg.DatabasePath())
	fmt.Printf("Index:           %s\n", cfg.IndexPath())
	fmt.Printf("Artifacts:       %s\n", cfg.BlobPath())
}
