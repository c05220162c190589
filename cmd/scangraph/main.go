package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/insightguard/scangraph/internal/db"
	"github.com/insightguard/scangraph/internal/export"
	"github.com/insightguard/scangraph/internal/ingest"
	"github.com/insightguard/scangraph/internal/report"
	"github.com/insightguard/scangraph/internal/schema"
	"github.com/insightguard/scangraph/internal/web"
)

const (
	defaultDBPath    = "scangraph.db"
	defaultUploadDir = "uploads"
	defaultPort      = 8080
)

func usage() string {
	return "Usage: scangraph <serve|ingest|scans|export>"
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	// Optional .env bootstrap; a missing file is fine.
	godotenv.Load()

	if len(args) < 2 {
		fmt.Fprintln(out, usage())
		return 1
	}

	command := strings.ToLower(args[1])
	switch command {
	case "serve":
		return runServe(args[2:], out, errOut)
	case "ingest":
		return runIngest(args[2:], out, errOut)
	case "scans":
		return runScans(args[2:], out, errOut)
	case "export":
		return runExport(args[2:], out, errOut)
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage())
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n", command)
		fmt.Fprintln(out, usage())
		return 1
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{Level: slog.LevelInfo}))
}

func runServe(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dbPath := fs.String("db", envOr("SCANGRAPH_DB", defaultDBPath), "path to database file")
	uploadDir := fs.String("uploads", envOr("SCANGRAPH_UPLOAD_DIR", defaultUploadDir), "directory for archived report files")
	port := fs.Int("port", envIntOr("SCANGRAPH_PORT", defaultPort), "port to listen on")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	database, err := db.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	log := newLogger(errOut)
	ingestor := &ingest.Orchestrator{
		DB:      database,
		Archive: &report.Archive{BaseDir: *uploadDir},
		Log:     log,
	}
	server := web.NewServer(database, ingestor, log)

	addr := fmt.Sprintf(":%d", *port)
	log.Info("listening", "addr", fmt.Sprintf("http://localhost:%d", *port), "db", *dbPath, "uploads", *uploadDir)
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		fmt.Fprintf(errOut, "serve: %v\n", err)
		return 1
	}
	return 0
}

func runIngest(args []string, out, errOut io.Writer) int {
	dbPath, remaining, err := extractFlag(args, "db", envOr("SCANGRAPH_DB", defaultDBPath))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	uploadDir, remaining, err := extractFlag(remaining, "uploads", envOr("SCANGRAPH_UPLOAD_DIR", defaultUploadDir))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	familySlug, remaining, err := extractFlag(remaining, "family", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	yearArg, remaining, err := extractFlag(remaining, "year", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	monthArg, remaining, err := extractFlag(remaining, "month", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	weekArg, remaining, err := extractFlag(remaining, "week", "0")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	department, remaining, err := extractFlag(remaining, "department", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	family, ok := schema.FromRouteSlug(familySlug)
	if !ok {
		fmt.Fprintf(errOut, "ingest requires --family weekly-dhs|monthly-dhs-web|dept-scan\n")
		return 1
	}
	year, err := strconv.Atoi(yearArg)
	if err != nil {
		fmt.Fprintln(errOut, "ingest requires --year")
		return 1
	}
	month, err := strconv.Atoi(monthArg)
	if err != nil {
		fmt.Fprintln(errOut, "ingest requires --month")
		return 1
	}
	week, err := strconv.Atoi(weekArg)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --week %q\n", weekArg)
		return 1
	}
	if len(remaining) < 1 {
		fmt.Fprintln(errOut, "ingest requires a CSV file path")
		return 1
	}
	filePath := remaining[0]

	file, err := os.Open(filePath)
	if err != nil {
		fmt.Fprintf(errOut, "open csv: %v\n", err)
		return 1
	}
	defer file.Close()

	database, err := db.Open(dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	ingestor := &ingest.Orchestrator{
		DB:      database,
		Archive: &report.Archive{BaseDir: uploadDir},
		Log:     newLogger(errOut),
	}
	summary, err := ingestor.Ingest(context.Background(), ingest.Request{
		Family:     family,
		Year:       year,
		Month:      month,
		WeekIndex:  week,
		Department: department,
		SourceFile: filepath.Base(filePath),
	}, file)
	if err != nil {
		fmt.Fprintf(errOut, "ingest: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "ingested %s: %d rows, %d stored, %d failed\n",
		summary.ScanID, summary.RowsTotal, summary.RowsIngested, summary.RowsFailed)
	for _, rowErr := range summary.Errors {
		fmt.Fprintf(out, "  row %d (%s): %s\n", rowErr.Row, rowErr.Column, rowErr.Reason)
	}
	return 0
}

func runScans(args []string, out, errOut io.Writer) int {
	dbPath, remaining, err := extractFlag(args, "db", envOr("SCANGRAPH_DB", defaultDBPath))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	familySlug, remaining, err := extractFlag(remaining, "family", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(remaining) > 0 {
		fmt.Fprintf(errOut, "unexpected arguments: %s\n", strings.Join(remaining, " "))
		return 1
	}

	database, err := db.Open(dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	families := schema.Families()
	if familySlug != "" {
		family, ok := schema.FromRouteSlug(familySlug)
		if !ok {
			fmt.Fprintf(errOut, "unknown family %q\n", familySlug)
			return 1
		}
		families = []schema.Family{family}
	}

	for _, family := range families {
		scans, err := database.ListScans(family)
		if err != nil {
			fmt.Fprintf(errOut, "list scans: %v\n", err)
			return 1
		}
		for _, s := range scans {
			fmt.Fprintf(out, "%s\t%s\t%d rows (%d failed)\n",
				s.ScanID, s.ScanDate.Format("2006-01-02"), s.RowsIngested, s.RowsFailed)
		}
	}
	return 0
}

func runExport(args []string, out, errOut io.Writer) int {
	dbPath, remaining, err := extractFlag(args, "db", envOr("SCANGRAPH_DB", defaultDBPath))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	format, remaining, err := extractFlag(remaining, "format", "json")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	outputPath, remaining, err := extractFlag(remaining, "o", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if outputPath == "" {
		outputPath, remaining, err = extractFlag(remaining, "output", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	if len(remaining) < 1 {
		fmt.Fprintln(errOut, "export requires a scan id")
		return 1
	}
	scanID := remaining[0]

	database, err := db.Open(dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	scan, found, err := database.GetScan(scanID)
	if err != nil {
		fmt.Fprintf(errOut, "get scan: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(errOut, "scan %q not found\n", scanID)
		return 1
	}

	var dest io.Writer = out
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			fmt.Fprintf(errOut, "create output: %v\n", err)
			return 1
		}
		defer file.Close()
		dest = file
	}

	switch strings.ToLower(format) {
	case "json":
		err = export.ExportScanJSON(database, scan, dest)
	case "csv":
		err = export.ExportScanCSV(database, scan.ScanID, dest)
	case "text":
		err = export.ExportScanText(database, scan, dest)
	default:
		fmt.Fprintf(errOut, "unknown export format: %s\n", format)
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "export %s: %v\n", format, err)
		return 1
	}

	if outputPath != "" {
		fmt.Fprintf(out, "exported %s (%s)\n", outputPath, strings.ToLower(format))
	}
	return 0
}

// extractFlag finds a string flag (e.g., --db value) anywhere in args and returns its value and remaining args.
func extractFlag(args []string, name string, defaultVal string) (string, []string, error) {
	val := defaultVal
	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--"+name || arg == "-"+name {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s flag requires a value", arg)
			}
			val = args[i+1]
			i++
			continue
		}
		remaining = append(remaining, arg)
	}
	return val, remaining, nil
}
