package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"

	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/authaudit"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/ledger"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

// ErrUsage is returned when the arguments do not name a runnable command.
var ErrUsage = errors.New("usage")

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Flags       *flag.FlagSet
	Run         func(ctx context.Context, args []string) error
}

// OpenFunc opens the database described by the config file at path.
type OpenFunc func(ctx context.Context, path string) (*gorm.DB, *config.Config, error)

// App is the tallyctl root command
type App struct {
	Name     string
	out      io.Writer
	open     OpenFunc
	Commands map[string]*Command
}

// NewApp creates the root command. Output goes to out; open is used by
// every subcommand that needs the database.
func NewApp(out io.Writer, open OpenFunc) *App {
	app := &App{
		Name:     "tallyctl",
		out:      out,
		open:     open,
		Commands: make(map[string]*Command),
	}
	for _, cmd := range []*Command{
		app.newMigrateCommand(),
		app.newRestoreCommand(),
		app.newExportCommand(),
		app.newPurgeCommand(),
	} {
		cmd.Flags.SetOutput(out)
		app.Commands[cmd.Name] = cmd
	}
	return app
}

// Execute runs the subcommand named by args[0]
func (a *App) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		a.usage()
		return ErrUsage
	}
	cmd, ok := a.Commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	if err := cmd.Flags.Parse(args[1:]); err != nil {
		return err
	}
	return cmd.Run(ctx, cmd.Flags.Args())
}

func (a *App) usage() {
	fmt.Fprintf(a.out, "Usage: %s <command> [flags]\n\nCommands:\n", a.Name)
	names := make([]string, 0, len(a.Commands))
	for name := range a.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.out, "  %-18s %s\n", name, a.Commands[name].Description)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file (TALLY_* env vars also apply)")
	return fs, configPath
}

// DefaultOpen loads the configuration, opens the database and migrates the
// schema.
func DefaultOpen(logger *observability.Logger) OpenFunc {
	return func(ctx context.Context, path string) (*gorm.DB, *config.Config, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, nil, err
		}
		db, err := storage.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(db, append(ledger.Models(), &authaudit.Entry{})...); err != nil {
			_ = storage.Close(db)
			return nil, nil, err
		}
		return db, cfg, nil
	}
}
