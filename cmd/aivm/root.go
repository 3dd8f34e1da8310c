package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/logging"
	"github.com/aivmlib-go/aivmlib/internal/storage"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// cli holds state shared by every subcommand of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string

	cfg      *config.Config
	logger   zerolog.Logger
	resolver *storage.Resolver
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "aivm",
		Short: "Inspect and edit AIVM voice model files",
		Long: `aivm reads and writes the metadata embedded in AIVM files: Safetensors
model weights carrying a manifest, hyperparameters and style vectors.

Create an AIVM file from a Style-Bert-VITS2 model:
  aivm create-aivm -m model.safetensors -p config.json -s style_vectors.npy -o model.aivm

Show its metadata:
  aivm show-metadata model.aivm

Files may be local paths or s3://bucket/key locations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default: ./aivm.yaml)")
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (json, text)")
	c.bind(pf, "logging.level", "log-level")
	c.bind(pf, "logging.format", "log-format")

	root.AddCommand(
		newShowCmd(c),
		newCreateCmd(c),
		newUpdateCmd(c),
		newSchemaCmd(),
		newCatalogCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) bind(flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = c.v.BindPFlag(key, f)
	}
}

func (c *cli) load(cmd *cobra.Command) error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("./configs")
		c.v.SetConfigName("aivm")
		c.v.SetConfigType("yaml")
		if err := c.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}
	config.BindEnv(c.v)

	cfg, err := config.FromViper(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(cfg.Logging, cmd.ErrOrStderr())
	c.resolver = storage.NewResolver(cfg.Storage.S3, cfg.Limits.MaxModelBytes)
	return nil
}

func (c *cli) readFile(ctx context.Context, location string) ([]byte, error) {
	store, path, err := c.resolver.Resolve(location)
	if err != nil {
		return nil, err
	}
	data, err := store.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	c.logger.Debug().Str("path", location).Int("bytes", len(data)).Msg("read file")
	return data, nil
}

// writeFile writes data to location. Unless overwrite is set, an existing
// file is an error.
func (c *cli) writeFile(ctx context.Context, location string, data []byte, overwrite bool) error {
	store, path, err := c.resolver.Resolve(location)
	if err != nil {
		return err
	}
	if !overwrite {
		exists, err := store.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s already exists (use --force to overwrite)", location)
		}
	}
	if err := store.WriteFile(ctx, path, data); err != nil {
		return fmt.Errorf("write %s: %w", location, err)
	}
	c.logger.Debug().Str("path", location).Int("bytes", len(data)).Msg("wrote file")
	return nil
}

// catalogDir returns the configured catalog directory or a per-user default.
func (c *cli) catalogDir() (string, error) {
	if c.cfg.Catalog.Path != "" {
		return c.cfg.Catalog.Path, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("no catalog path configured: %w", err)
	}
	return filepath.Join(dir, "aivm", "catalog"), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aivm %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Commit:     %s\n", Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build Date: %s\n", BuildDate)
		},
	}
}
