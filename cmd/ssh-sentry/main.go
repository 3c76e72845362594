package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ssh-sentry/internal/audit"
	"ssh-sentry/internal/config"
	"ssh-sentry/internal/pidfile"
	"ssh-sentry/internal/state"
	"ssh-sentry/internal/types"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ssh-sentry",
		Short:         "Watch SSH logins and send chat alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config file")

	root.AddCommand(newRunCmd(), newStatusCmd(), newAuditCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the monitor (requires root)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			path := configPath
			return run(cmd.Context(), cfg, func() (*types.Config, error) {
				return config.LoadConfig(path)
			})
		},
	}
}

// Status is the document printed by the status command
type Status struct {
	Running     bool   `yaml:"running"`
	PID         int    `yaml:"pid,omitempty"`
	PIDFile     string `yaml:"pid_file"`
	AuthLog     string `yaml:"auth_log"`
	Journald    bool   `yaml:"journald_enabled"`
	GeoProvider string `yaml:"geo_provider"`
	RateLimit   struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Login   int    `yaml:"login_seconds"`
		Failed  int    `yaml:"failed_seconds"`
		Logout  int    `yaml:"logout_seconds"`
		Root    bool   `yaml:"root_always_notify"`
		Entries *int   `yaml:"entries,omitempty"`
	} `yaml:"rate_limit"`
	Telegram string `yaml:"telegram"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the monitor is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := buildStatus(afero.NewOsFs(), cfg)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(st)
		},
	}
}

func buildStatus(fsys afero.Fs, cfg *types.Config) (*Status, error) {
	marker := pidfile.New(fsys, cfg.Runtime.PIDFile)
	st := &Status{
		PIDFile:     marker.Path(),
		AuthLog:     cfg.Input.AuthLogPath,
		Journald:    cfg.Input.EnableJournal,
		GeoProvider: cfg.Geo.Provider,
		Telegram:    "not configured",
	}
	st.RateLimit.Backend = cfg.RateLimit.Backend
	st.RateLimit.Path = cfg.RateLimit.Path
	st.RateLimit.Login = cfg.RateLimit.Login
	st.RateLimit.Failed = cfg.RateLimit.Failed
	st.RateLimit.Logout = cfg.RateLimit.Logout
	st.RateLimit.Root = cfg.RateLimit.RootAlwaysNotify
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		st.Telegram = "configured"
	}

	if n, ok := countEntries(fsys, cfg.RateLimit); ok {
		st.RateLimit.Entries = &n
	}

	pid, running, err := marker.Running()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		st.PID = pid
		st.Running = running
	}
	return st, nil
}

// countEntries reads the persisted table without creating it
func countEntries(fsys afero.Fs, cfg types.RateLimitConfig) (int, bool) {
	if _, err := fsys.Stat(cfg.Path); err != nil {
		return 0, false
	}

	var store state.Store
	var err error
	if cfg.Backend == "sqlite" {
		store, err = state.NewSQLiteStore(cfg.Path)
	} else {
		store, err = state.NewFileStore(fsys, cfg.Path)
	}
	if err != nil {
		return 0, false
	}
	defer store.Close()

	entries, err := store.Load()
	if err != nil {
		return 0, false
	}
	return len(entries), true
}

func newAuditCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the end of the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Logging.File == "" {
				return errors.New("activity log disabled (logging.file is empty)")
			}
			out, err := audit.Tail(cfg.Logging.File, lines)
			if err != nil {
				return fmt.Errorf("failed to read activity log: %w", err)
			}
			for _, l := range out {
				fmt.Fprintln(cmd.OutOrStdout(), sanitize(l))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	return cmd
}

// sanitize strips control characters (except newline and tab) to prevent terminal injection
func sanitize(s string) string {
	var builder strings.Builder
	for _, r := range s {
		if (r >= 32 && r != 0x7f) || r == '\n' || r == '\t' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
