// ABOUTME: Root cobra command for wardlink and shared command plumbing
// ABOUTME: Loads config, builds loggers and opens the registry for subcommands

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wardlink/internal/config"
	"github.com/2389/wardlink/internal/registry"
	"github.com/2389/wardlink/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _ _ _       _
__      ____ _ _ __ __| | (_)_ __ | | __
\ \ /\ / / _' | '__/ _' | | | '_ \| |/ /
 \ V  V / (_| | | | (_| | | | | | |   <
  \_/\_/ \__,_|_|  \__,_|_|_|_| |_|_|\_\
`

// app carries what every subcommand shares.
type app struct {
	configFlag string
}

// NewRootCmd builds the wardlink command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "wardlink",
		Short:         "Pair a coordinator with requesters on the local network",
		Long:          color.CyanString(banner) + "\nwardlink pairs a supervising coordinator with requesters who may ask it for help.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configFlag, "config", "", "config file (default $XDG_CONFIG_HOME/wardlink/wardlink.yaml)")

	root.AddCommand(
		newVersionCmd(),
		newCoordinatorCmd(a),
		newRequesterCmd(a),
		newLocationsCmd(a),
		newStatusCmd(a),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wardlink %s\n", version)
		},
	}
}

// load reads the config named by --config or the default location.
func (a *app) load() (*config.Config, string, error) {
	path, isDefault := config.Path(a.configFlag)
	cfg, err := config.LoadOrDefault(path, isDefault)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// env is a loaded config with the collaborators built from it.
type env struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	tel        *telemetry.Client
}

func (a *app) env(cmd *cobra.Command) (*env, error) {
	cfg, path, err := a.load()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
	return &env{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		tel:        telemetry.NewClient(cfg.Telemetry.BaseURL, cfg.Telemetry.Timeout, logger),
	}, nil
}

func (e *env) openRegistry() (*registry.SQLiteRegistry, error) {
	reg, err := registry.NewSQLiteRegistry(e.cfg.Registry.Path, e.logger)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	return reg, nil
}

// printBanner prints the banner and startup lines for long-running commands.
func printBanner(w io.Writer, lines ...[2]string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)
	for _, l := range lines {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-12s %s\n", l[0]+":", l[1])
	}
	fmt.Fprintln(w)
}
