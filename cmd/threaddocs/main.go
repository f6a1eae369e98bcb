// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/threaddocs"
	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/migrate"
	"github.com/poiesic/threaddocs/storage"
	"github.com/poiesic/threaddocs/thread"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "threaddocs",
		Usage:  "Inspect and maintain thread document storage",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides logging.level in the config file",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "no-fallback",
				Usage: "Fail instead of falling back to the in-memory store",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show storage usage of the active backend",
				Action: statsCommand,
			},
			{
				Name:   "list",
				Usage:  "List documents, most recently updated first",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "Only documents of this thread"},
					&cli.StringFlag{Name: "type", Usage: "Only documents of this type (richtext, whiteboard)"},
					&cli.BoolFlag{Name: "deleted", Usage: "Include soft-deleted documents"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of documents", Value: 50},
					&cli.IntFlag{Name: "offset", Usage: "Number of documents to skip"},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document",
				ArgsUsage: "<document-id>",
				Action:    deleteCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "soft", Usage: "Mark the document deleted instead of removing it"},
				},
			},
			{
				Name:  "thread",
				Usage: "Manage thread-document links",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Show the document of a thread, creating it if needed",
						ArgsUsage: "<thread-id>",
						Action:    threadGetCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "no-create", Usage: "Fail when the thread has no document"},
							&cli.StringFlag{Name: "type", Usage: "Type of a created document (richtext, whiteboard)"},
						},
					},
					{
						Name:      "link",
						Usage:     "Link a thread to an existing document",
						ArgsUsage: "<thread-id> <document-id>",
						Action:    threadLinkCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "secondary", Usage: "Do not mark the link primary"},
						},
					},
					{
						Name:      "unlink",
						Usage:     "Remove the link of a thread, keeping the document",
						ArgsUsage: "<thread-id>",
						Action:    threadUnlinkCommand,
					},
					{
						Name:   "list",
						Usage:  "List all thread links",
						Action: threadListCommand,
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Import documents from a legacy key/value store",
				Action: migrateCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "legacy",
						Usage:    "Path to the legacy SQLite store",
						Required: true,
					},
					&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be migrated without writing"},
					&cli.BoolFlag{Name: "delete", Usage: "Delete legacy records after they are stored"},
					&cli.BoolFlag{Name: "backup", Usage: "Keep a backup copy of each deleted legacy record"},
					&cli.StringFlag{Name: "prefix", Usage: "Key prefix of legacy documents", Value: migrate.DefaultPrefix},
				},
			},
		},
	}
}

// openSystem builds a System from the config file and flag overrides.
func openSystem(c *cli.Context) (*threaddocs.System, error) {
	cfg := threaddocs.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := threaddocs.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		// The flag wins over the file.
		if !c.IsSet("log-level") {
			level, err := cfg.SlogLevel()
			if err != nil {
				return nil, err
			}
			installLogger(c.App.ErrWriter, level)
		}
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
		cfg.Storage.InMemory = false
	}
	if c.Bool("no-fallback") {
		cfg.Manager.Fallbacks = nil
	}

	sys, err := threaddocs.NewSystem(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return sys, nil
}

// withSystem runs fn against an open System and always shuts it down.
func withSystem(c *cli.Context, fn func(ctx context.Context, sys *threaddocs.System) error) (err error) {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := sys.Shutdown(context.Background()); err == nil {
			err = shutdownErr
		}
	}()
	return fn(c.Context, sys)
}

func statsCommand(c *cli.Context) error {
	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		stats, err := sys.Manager().Stats(ctx)
		if err != nil {
			return err
		}
		out := c.App.Writer
		fmt.Fprintf(out, "Backend:   %s\n", stats.Backend)
		fmt.Fprintf(out, "Documents: %s\n", humanize.Comma(int64(stats.DocumentCount)))
		fmt.Fprintf(out, "Size:      %s\n", humanize.Bytes(uint64(stats.EstimatedBytes)))
		if stats.QuotaBytes > 0 {
			fmt.Fprintf(out, "Quota:     %s (%.1f%% used, %s free)\n",
				humanize.Bytes(uint64(stats.QuotaBytes)), stats.UsagePercent,
				humanize.Bytes(uint64(stats.RemainingBytes)))
		}
		fmt.Fprintf(out, "Links:     %d\n", len(sys.Threads().Links()))
		return nil
	})
}

func listCommand(c *cli.Context) error {
	docType := core.DocumentType(strings.ToLower(c.String("type")))
	if docType != "" && !docType.Valid() {
		return fmt.Errorf("invalid document type %q", c.String("type"))
	}
	filter := core.ListFilter{
		ThreadID:       c.String("thread"),
		Type:           docType,
		IncludeDeleted: c.Bool("deleted"),
		Limit:          c.Int("limit"),
		Offset:         c.Int("offset"),
	}

	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		docs, err := sys.Manager().List(ctx, filter)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTHREAD\tTYPE\tVERSION\tTITLE\tUPDATED")
		for _, doc := range docs {
			m := doc.Metadata
			title := m.Title
			if m.IsDeleted {
				title += " (deleted)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				m.ID, m.ThreadID, m.Type, m.Version, title, humanize.Time(m.UpdatedAt))
		}
		return tw.Flush()
	})
}

func deleteCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		if c.Bool("soft") {
			doc, err := storage.SoftDelete(ctx, sys.Manager(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Marked %s deleted (version %d)\n", id, doc.Metadata.Version)
			return nil
		}
		if err := sys.Manager().Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Deleted %s\n", id)
		return nil
	})
}

func threadGetCommand(c *cli.Context) error {
	threadID := c.Args().First()
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	opts := thread.GetOptions{
		CreateIfMissing: thread.Bool(!c.Bool("no-create")),
		Type:            core.DocumentType(strings.ToLower(c.String("type"))),
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return fmt.Errorf("invalid document type %q", c.String("type"))
	}

	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		doc, err := sys.Threads().GetDocumentForThread(ctx, threadID, opts)
		if err != nil {
			return err
		}
		out := c.App.Writer
		fmt.Fprintf(out, "Thread:   %s\n", threadID)
		fmt.Fprintf(out, "Document: %s\n", doc.Metadata.ID)
		fmt.Fprintf(out, "Type:     %s\n", doc.Metadata.Type)
		fmt.Fprintf(out, "Version:  %d\n", doc.Metadata.Version)
		fmt.Fprintf(out, "Size:     %s\n", humanize.Bytes(uint64(len(doc.Content))))
		fmt.Fprintf(out, "Updated:  %s\n", humanize.Time(doc.Metadata.UpdatedAt))
		return nil
	})
}

func threadLinkCommand(c *cli.Context) error {
	threadID, documentID := c.Args().Get(0), c.Args().Get(1)
	if threadID == "" || documentID == "" {
		return fmt.Errorf("thread id and document id are required")
	}
	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		if err := sys.Threads().LinkDocumentToThread(ctx, threadID, documentID, !c.Bool("secondary")); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Linked %s to %s\n", threadID, documentID)
		return nil
	})
}

func threadUnlinkCommand(c *cli.Context) error {
	threadID := c.Args().First()
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		if err := sys.Threads().UnlinkDocumentFromThread(ctx, threadID); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Unlinked %s\n", threadID)
		return nil
	})
}

func threadListCommand(c *cli.Context) error {
	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "THREAD\tDOCUMENT\tPRIMARY\tCREATED")
		for _, link := range sys.Threads().Links() {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", link.ThreadID, link.DocumentID, link.IsPrimary, humanize.Time(link.CreatedAt))
		}
		return tw.Flush()
	})
}

func migrateCommand(c *cli.Context) error {
	legacy, err := migrate.OpenSQLiteLegacyStore(c.String("legacy"))
	if err != nil {
		return fmt.Errorf("failed to open legacy store: %w", err)
	}
	defer legacy.Close()

	opts := migrate.Options{
		DryRun:               c.Bool("dry-run"),
		DeleteAfterMigration: c.Bool("delete"),
		BackupBeforeDelete:   c.Bool("backup"),
		Prefix:               c.String("prefix"),
		Progress:             c.App.ErrWriter,
	}

	return withSystem(c, func(ctx context.Context, sys *threaddocs.System) error {
		result, err := sys.Migrate(ctx, legacy, opts)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		out := c.App.Writer
		verb := "Migrated"
		if result.DryRun {
			verb = "Would migrate"
		}
		fmt.Fprintf(out, "%s: %d\n", verb, result.MigratedCount)
		fmt.Fprintf(out, "Skipped:  %d\n", result.SkippedCount)
		fmt.Fprintf(out, "Failed:   %d\n", result.FailedCount)
		for _, recErr := range result.Errors {
			fmt.Fprintf(out, "  %s\n", recErr.Error())
		}
		return nil
	})
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	installLogger(c.App.ErrWriter, level)
	return nil
}

func installLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
