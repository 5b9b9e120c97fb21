package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/notibus/internal/config"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.DaemonConfig // fileCfg with command line overrides
	fileCfg    *config.DaemonConfig // as loaded from the config file
	globalOpts struct {
		verbose    bool
		configPath string
		dryRun     bool
	}
	busOpts busFlags
	logger  *slog.Logger
)

// busFlags are the bus selection flags shared by every command that
// connects to a bus.
type busFlags struct {
	system bool
}

// AddFlags registers --system on flagSet.
func (b *busFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&b.system, "system", false,
		"Use the system bus instead of the session bus")
}

// Apply overrides the bus settings of c with the flags that were set
// explicitly on flagSet.
func (b *busFlags) Apply(c *config.DaemonConfig, flagSet *pflag.FlagSet) {
	if flagSet.Changed("system") {
		c.Bus.System = b.system
	}
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "notibusd",
	Short: "Desktop notification bus service",
	Long: `notibusd claims org.freedesktop.Notifications on the session bus and
forwards every notification to an external display command (hyprctl notify
by default).

If another notification server already answers on the bus, notibusd exits
without claiming the name.

Running notibusd without a subcommand starts the service.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(cmd.ErrOrStderr())

		// Commands that only deal with the file itself must work even
		// when it does not validate.
		if cmd.Annotations[annotationSkipConfig] == "true" {
			return nil
		}

		var err error
		fileCfg, err = config.Load(configPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = withOverrides(fileCfg, cmd.Flags())
		return nil
	},
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/notibus/notibusd.toml)")
	rootCmd.PersistentFlags().BoolVar(&globalOpts.dryRun, "dry-run", false,
		"Log notifications instead of running the display command")
	busOpts.AddFlags(rootCmd.PersistentFlags())
}

// annotationSkipConfig marks commands that run without loading the config.
const annotationSkipConfig = "notibus/skip-config"

// configPath returns the config file in use.
func configPath() string {
	if globalOpts.configPath != "" {
		return globalOpts.configPath
	}
	return config.DefaultPath()
}

// withOverrides returns a copy of c with command line flags applied on top.
// c itself is left as loaded.
func withOverrides(c *config.DaemonConfig, flagSet *pflag.FlagSet) *config.DaemonConfig {
	out := *c
	busOpts.Apply(&out, flagSet)
	if globalOpts.dryRun {
		out.Renderer.Kind = config.RendererLog
	}
	return &out
}

// setupLogger configures the global slog logger.
func setupLogger(w io.Writer) {
	level := slog.LevelInfo
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(w, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
