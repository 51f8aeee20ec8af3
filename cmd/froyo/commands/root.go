package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global flags
	projectPath   string
	envName       string
	profile       string
	logLevel      string
	logFormat     string
	metricsAddr   string
	traceExporter string
	traceEndpoint string
	assumeYes     bool
	noPrompt      bool
	approve       bool

	// buildVersion is reported on traces and metrics.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	bindViper(rootCmd)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo",
		Short: "Deploy serverless applications as CloudFormation stacks",
		Long: `froyo composes a CloudFormation template from a project file, bundles its
functions, uploads artifacts and static assets to S3 and drives the stack to
a terminal state while streaming stack events.

Settings can also come from FROYO_* environment variables or from
$XDG_CONFIG_HOME/froyo/config.yaml (override with FROYO_CONFIG).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "froyo.yaml", "project file path")
	rootCmd.PersistentFlags().StringVarP(&envName, "env", "e", "", "environment to operate on (required when the project declares several)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared config profile (overrides the project file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (otlp, stdout, none)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation")
	rootCmd.PersistentFlags().BoolVar(&noPrompt, "no-prompt", false, "never prompt; fail on parameters without a value")
	rootCmd.PersistentFlags().BoolVar(&approve, "approve-changesets", false, "ask before executing each changeset")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newPackageCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// bindViper lets every flag of root and its subcommands be set from the
// environment or the settings file. Flags given on the command line win.
func bindViper(root *cobra.Command) {
	commands := append([]*cobra.Command{root}, root.Commands()...)

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("FROYO")
	v.AutomaticEnv()
	configFile := os.Getenv("FROYO_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "froyo"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".froyo"))
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}
