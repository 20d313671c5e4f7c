// Package history parses history tool flags and runs maintenance commands
// against a document database.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/teacurran/WireTuner-sub012/internal/export"
	entrypoint "github.com/teacurran/WireTuner-sub012/internal/platform/cmd"
	"github.com/teacurran/WireTuner-sub012/internal/replay"
	"github.com/teacurran/WireTuner-sub012/internal/storage/sqlite"
)

// Config holds history command configuration.
type Config struct {
	DBPath string `env:"WIRETUNER_DB_PATH" envDefault:"wiretuner.db"`
}

// ParseConfig parses environment and flags into a Config. The returned args
// are the remaining positional arguments: a subcommand and its flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, nil, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the document database")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

// Run executes one history subcommand.
func Run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHistory, func(ctx context.Context) error {
		return run(ctx, cfg, args, out)
	})
}

func run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if len(args) == 0 {
		return errors.New("usage: history [-db path] <verify|replay|export|import|snapshots|migrate> [flags]")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "verify":
		return runVerify(ctx, store, out)
	case "replay":
		return runReplay(ctx, store, rest, out)
	case "export":
		return runExport(ctx, store, rest, out)
	case "import":
		return runImport(ctx, store, rest, out)
	case "snapshots":
		return runSnapshots(ctx, store, rest, out)
	case "migrate":
		return runMigrate(ctx, store, rest, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runVerify(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	if err := store.VerifyIntegrity(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func runReplay(ctx context.Context, store *sqlite.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	docID := fs.String("doc", "", "document id")
	seq := fs.Int64("seq", -1, "target sequence (-1 = latest)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" {
		return errors.New("replay: -doc is required")
	}

	target := *seq
	if target < 0 {
		latest, err := store.LatestSeq(ctx, *docID)
		if err != nil {
			return err
		}
		target = latest
	}

	state, err := replay.New(store, store, nil).Reconstruct(ctx, *docID, target)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func runExport(ctx context.Context, store *sqlite.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	docID := fs.String("doc", "", "document id")
	start := fs.Int64("start", 0, "first sequence to export")
	end := fs.Int64("end", -1, "last sequence to export (-1 = latest)")
	path := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" {
		return errors.New("export: -doc is required")
	}

	endSeq := *end
	if endSeq < 0 {
		latest, err := store.LatestSeq(ctx, *docID)
		if err != nil {
			return err
		}
		endSeq = latest
	}

	exporter := export.New(store, store, store, replay.New(store, store, nil))
	bundle, err := exporter.ExportRange(ctx, *docID, *start, endSeq)
	if err != nil {
		return err
	}

	w := out
	if *path != "" {
		f, err := os.Create(*path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bundle)
}

func runImport(ctx context.Context, store *sqlite.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	docID := fs.String("doc", "", "target document id")
	path := fs.String("in", "", "bundle file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" || *path == "" {
		return errors.New("import: -doc and -in are required")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	var bundle export.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}

	exporter := export.New(store, store, store, replay.New(store, store, nil))
	state, err := exporter.ImportBundle(ctx, bundle, *docID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d events into %s (latest state has %d objects)\n",
		len(bundle.Events), *docID, len(state.Objects))
	return nil
}

func runSnapshots(ctx context.Context, store *sqlite.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	docID := fs.String("doc", "", "document id")
	limit := fs.Int("limit", 20, "maximum snapshots to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" {
		return errors.New("snapshots: -doc is required")
	}

	snaps, err := store.ListSnapshots(ctx, *docID, *limit)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		fmt.Fprintf(out, "seq %d\t%d bytes (%d compressed)\t%s\n",
			snap.Seq, snap.UncompressedSize, len(snap.CompressedState), snap.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runMigrate(ctx context.Context, store *sqlite.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	docID := fs.String("doc", "", "document id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" {
		return errors.New("migrate: -doc is required")
	}

	err := store.MigrateDocument(ctx, *docID, func(ctx context.Context) error {
		fmt.Fprintf(out, "migrating document %s\n", *docID)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "done")
	return nil
}
