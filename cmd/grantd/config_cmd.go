package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/grantd"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage grantd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.grantd/config.yaml"
	if dir, err := grantd.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, grantd.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default grantd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				dir, err := grantd.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, "config.yaml")
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}

			if stdout {
				fmt.Print(string(data))
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	Listen                 string `yaml:"listen"`
	MetricsListen          string `yaml:"metrics-listen"`
	PprofListen            string `yaml:"pprof-listen"`
	EnableProfilingMetrics bool   `yaml:"enable-profiling-metrics"`
	SessionSecret          string `yaml:"session-secret"`
	CodeTTL                string `yaml:"code-ttl"`
	AccessTokenTTL         string `yaml:"access-token-ttl"`
	RefreshTokenTTL        string `yaml:"refresh-token-ttl"`
	SweeperInterval        string `yaml:"sweeper-interval"`
	FormMax                string `yaml:"form-max"`
	ResourceScope          string `yaml:"resource-scope"`
	ClientID               string `yaml:"client-id"`
	ClientRedirect         string `yaml:"client-redirect"`
	ClientScope            string `yaml:"client-scope"`
	OTLPEndpoint           string `yaml:"otlp-endpoint"`
	DisableHTTPTracing     bool   `yaml:"disable-http-tracing"`
	LogLevel               string `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		Listen:                 grantd.DefaultListen,
		MetricsListen:          grantd.DefaultMetricsListen,
		PprofListen:            grantd.DefaultPprofListen,
		EnableProfilingMetrics: false,
		SessionSecret:          "",
		CodeTTL:                grantd.DefaultCodeTTL.String(),
		AccessTokenTTL:         grantd.DefaultAccessTokenTTL.String(),
		RefreshTokenTTL:        grantd.DefaultRefreshTokenTTL.String(),
		SweeperInterval:        grantd.DefaultSweeperInterval.String(),
		FormMax:                humanizeBytes(grantd.DefaultFormMaxBytes),
		ResourceScope:          grantd.DefaultResourceScope,
		ClientID:               grantd.DefaultClientID,
		ClientRedirect:         grantd.DefaultClientRedirectURI,
		ClientScope:            grantd.DefaultClientScope,
		OTLPEndpoint:           "",
		DisableHTTPTracing:     false,
		LogLevel:               "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}

	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
