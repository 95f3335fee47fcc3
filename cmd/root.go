// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/config"
	"github.com/xkilldash9x/tabquery/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// osExit is replaced in tests.
var osExit = os.Exit

// flagBindings maps command flags onto the config keys they override.
var flagBindings = map[string]string{
	"log-level":         "logger.level",
	"backend":           "browser.backend",
	"tab":               "browser.tab",
	"concurrency":       "browser.concurrency",
	"yield-hosts":       "query.yield_host_matches",
	"descend-light-dom": "query.descend_light_dom",
	"action-timeout":    "query.action_timeout",
	"format":            "output.format",
}

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "tabquery",
		Short: "Query and script DOM nodes across shadow roots and iframes.",
		Long: `tabquery walks a chain of CSS selectors through shadow roots and same-origin
iframes of a browser tab or an HTML document, and prints the outer HTML of
every match or the result of a JavaScript action run against it.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting tabquery", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newVideoCmd())
	cmd.AddCommand(newTabsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI with a context cancelled by SIGINT or SIGTERM and
// exits with a non-zero status on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	code := exitCode(err)
	observability.Sync()
	osExit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// exitCode logs err and maps it to a process status. An interrupt is a
// clean exit.
func exitCode(err error) int {
	logger := observability.GetLogger()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Info("Interrupted.")
		return 0
	default:
		logger.Error("Command execution failed", zap.Error(err))
		return 1
	}
}

// initializeConfig reads the config file and TABQUERY_ environment variables
// into v and binds the command's flags over them.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TABQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}
	return nil
}

// configFrom returns the configuration stored by the root command.
func configFrom(cmd *cobra.Command) (config.Interface, error) {
	cfg, ok := cmd.Context().Value(configKey).(config.Interface)
	if !ok {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}
