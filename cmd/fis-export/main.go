// Command fis-export writes the receipts matching a filter to an XLSX
// workbook without going through the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/JonMunkholm/fisler/internal/config"
	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/database"
	"github.com/JonMunkholm/fisler/internal/export"
	"github.com/JonMunkholm/fisler/internal/logging"
)

func main() {
	fs := ff.NewFlagSet("fis-export")
	var (
		driver    = fs.StringLong("driver", config.DriverPostgres, "Store driver: 'postgres' or 'bolt'")
		dbURL     = fs.StringLong("db-url", "", "PostgreSQL connection string (postgres driver)")
		boltPath  = fs.StringLong("bolt-path", "fisler.db", "Database file path (bolt driver)")
		search    = fs.StringLong("search", "", "Full-text search over receipt numbers and items")
		fisNo     = fs.StringLong("fis-no", "", "Receipt number substring")
		startDate = fs.StringLong("start-date", "", "Earliest receipt date (YYYY-MM-DD)")
		endDate   = fs.StringLong("end-date", "", "Latest receipt date (YYYY-MM-DD)")
		minAmount = fs.StringLong("min-amount", "", "Minimum total")
		maxAmount = fs.StringLong("max-amount", "", "Maximum total")
		out       = fs.StringLong("out", "", "Output file (default: fisler_export_<timestamp>.xlsx)")
		logLevel  = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		timeout   = fs.DurationLong("timeout", time.Minute, "Overall export timeout")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FISLER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(*logLevel, "text")

	q := url.Values{}
	for key, val := range map[string]string{
		"search":    *search,
		"fisNo":     *fisNo,
		"startDate": *startDate,
		"endDate":   *endDate,
		"minAmount": *minAmount,
		"maxAmount": *maxAmount,
	} {
		if val != "" {
			q.Set(key, val)
		}
	}
	params, err := core.ParseFilterParams(q, core.DefaultAPILimit)
	if err != nil {
		slog.Error("invalid filter", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code := run(ctx, config.DatabaseConfig{
		Driver:          *driver,
		URL:             *dbURL,
		BoltPath:        *boltPath,
		MaxConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}, params, *out)
	os.Exit(code)
}

func run(ctx context.Context, dbCfg config.DatabaseConfig, params core.FilterParams, out string) int {
	store, err := database.Open(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return 1
	}
	defer store.Close()

	records, err := core.NewService(store).ExportFiltered(ctx, params)
	if errors.Is(err, core.ErrEmptySelection) {
		slog.Warn("no receipts match the filter")
		return 3
	}
	if err != nil {
		slog.Error("export query failed", "error", err)
		return 1
	}

	f := export.NewFormatter()
	if out == "" {
		out = f.FileName()
	}
	file, err := os.Create(out)
	if err != nil {
		slog.Error("failed to create output", "path", out, "error", err)
		return 1
	}
	if err := f.Write(file, records); err != nil {
		file.Close()
		os.Remove(out)
		slog.Error("failed to write workbook", "error", err)
		return 1
	}
	if err := file.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
		return 1
	}

	slog.Info("export written", "path", out, "records", len(records))
	return 0
}
