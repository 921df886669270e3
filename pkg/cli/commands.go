package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/authaudit"
	"github.com/platinummonkey/tally/pkg/ledger"
	"github.com/platinummonkey/tally/pkg/lifecycle"
)

func (a *App) newMigrateCommand() *Command {
	fs, configPath := newFlagSet("migrate")
	return &Command{
		Name:        "migrate",
		Description: "Create or update the database schema",
		Flags:       fs,
		Run: func(ctx context.Context, args []string) error {
			if _, _, err := a.open(ctx, *configPath); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "schema up to date")
			return nil
		},
	}
}

func (a *App) newRestoreCommand() *Command {
	fs, configPath := newFlagSet("restore")
	entityType := fs.String("type", "", "Entity type, e.g. Receipt")
	id := fs.String("id", "", "Entity ID")
	userID := fs.String("user", "", "Restore on behalf of this user ID")
	apiKeyID := fs.String("api-key", "", "Restore on behalf of this API key ID")

	return &Command{
		Name:        "restore",
		Description: "Restore a soft-deleted entity and its dependents",
		Flags:       fs,
		Run: func(ctx context.Context, args []string) error {
			if *entityType == "" || *id == "" {
				return errors.New("-type and -id are required")
			}
			var who actor.Actor
			switch {
			case *userID != "" && *apiKeyID != "":
				return actor.ErrAmbiguousActor
			case *userID != "":
				who = actor.User(*userID)
			case *apiKeyID != "":
				who = actor.APIKey(*apiKeyID)
			default:
				return errors.New("one of -user or -api-key is required")
			}

			db, cfg, err := a.open(ctx, *configPath)
			if err != nil {
				return err
			}
			mode, err := lifecycle.ParseCascadeMode(cfg.Lifecycle.CascadeMode)
			if err != nil {
				return err
			}
			s, err := lifecycle.NewSession(db, ledger.Policy(), who, lifecycle.WithCascadeMode(mode))
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.Restore(ctx, *entityType, *id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s: %s\n", *entityType, *id, result)
			return nil
		},
	}
}

func (a *App) newExportCommand() *Command {
	fs, configPath := newFlagSet("export")
	format := fs.String("format", string(audit.ExportFormatJSON), "Output format: json, ndjson, csv or xlsx")
	output := fs.String("out", "", "Output file (default stdout)")
	entityType := fs.String("entity-type", "", "Only entries for this entity type")
	since := fs.String("since", "", "Only entries at or after this RFC3339 time")
	limit := fs.Int("limit", 10000, "Maximum number of entries")

	return &Command{
		Name:        "export",
		Description: "Export the audit log",
		Flags:       fs,
		Run: func(ctx context.Context, args []string) error {
			filter := audit.Filter{
				EntityType: *entityType,
				Limit:      *limit,
				SortOrder:  "asc",
			}
			if *since != "" {
				t, err := time.Parse(time.RFC3339, *since)
				if err != nil {
					return fmt.Errorf("invalid -since: %w", err)
				}
				filter.StartTime = &t
			}

			db, _, err := a.open(ctx, *configPath)
			if err != nil {
				return err
			}
			data, err := audit.NewStore(db).Export(ctx, filter, audit.ExportFormat(*format))
			if err != nil {
				return err
			}

			if *output == "" {
				_, err = a.out.Write(data)
				return err
			}
			if err := os.WriteFile(*output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", *output, err)
			}
			fmt.Fprintf(a.out, "wrote %d bytes to %s\n", len(data), *output)
			return nil
		},
	}
}

func (a *App) newPurgeCommand() *Command {
	fs, configPath := newFlagSet("purge-auth-audit")
	days := fs.Int("days", 0, "Retention in days (default from config)")

	return &Command{
		Name:        "purge-auth-audit",
		Description: "Delete auth audit events older than the retention period",
		Flags:       fs,
		Run: func(ctx context.Context, args []string) error {
			db, cfg, err := a.open(ctx, *configPath)
			if err != nil {
				return err
			}
			retention := *days
			if retention == 0 {
				retention = cfg.Retention.Days
			}
			removed, err := authaudit.NewService(db).CleanupOldEntries(ctx, retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed %d auth audit entries older than %d days\n", removed, retention)
			return nil
		},
	}
}
