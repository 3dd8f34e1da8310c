package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aivmlib-go/aivmlib/internal/config"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "aivm-server",
	Short: "HTTP service for AIVM model files",
	Long: `aivm-server decodes, synthesizes and encodes AIVM model metadata over
HTTP and serves a catalog of stored models.

Start the server:
  aivm-server

Serve models from S3:
  aivm-server --storage-backend s3 --s3-bucket models

Use environment variables:
  AIVM_LISTEN=0.0.0.0:8080 AIVM_CATALOG_PATH=/var/lib/aivm aivm-server`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aivm-server %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Commit:     %s\n", Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  Build Date: %s\n", BuildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	d := config.Default()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aivm.yaml)")

	f := rootCmd.Flags()
	f.String("listen", d.Server.Listen, "Server listen address")
	f.Duration("read-timeout", d.Server.ReadTimeout, "HTTP read timeout")
	f.Duration("write-timeout", d.Server.WriteTimeout, "HTTP write timeout")

	f.String("storage-backend", d.Storage.Backend, "Model storage backend (local, s3)")
	f.String("storage-root", d.Storage.Root, "Directory for the local storage backend")
	f.String("s3-bucket", d.Storage.S3.Bucket, "Bucket for the s3 storage backend")
	f.String("s3-prefix", d.Storage.S3.Prefix, "Key prefix for the s3 storage backend")
	f.String("s3-endpoint", d.Storage.S3.Endpoint, "Custom S3-compatible endpoint")

	f.String("catalog-path", d.Catalog.Path, "Catalog database directory (empty = in memory)")
	f.Int("catalog-workers", d.Catalog.Workers, "Concurrent indexing workers")
	f.Bool("scan", false, "Index every stored model on startup")

	f.String("api-key", d.Auth.APIKey, "API key for authentication (empty = no auth)")
	f.Int64("max-model-bytes", d.Limits.MaxModelBytes, "Largest accepted request body")
	f.Int("max-concurrent-encodes", d.Limits.MaxConcurrentEncodes, "Encodes allowed to run at once")
	f.Duration("queue-timeout", d.Limits.QueueTimeout, "How long an encode waits for a slot (0 = reject)")

	f.String("log-level", d.Logging.Level, "Log level (debug, info, warn, error)")
	f.String("log-format", d.Logging.Format, "Log format (json, text)")

	bindFlags()

	rootCmd.AddCommand(versionCmd)
}

func bindFlags() {
	bindings := []struct {
		key  string
		flag string
	}{
		{"server.listen", "listen"},
		{"server.read_timeout", "read-timeout"},
		{"server.write_timeout", "write-timeout"},
		{"storage.backend", "storage-backend"},
		{"storage.root", "storage-root"},
		{"storage.s3.bucket", "s3-bucket"},
		{"storage.s3.prefix", "s3-prefix"},
		{"storage.s3.endpoint", "s3-endpoint"},
		{"catalog.path", "catalog-path"},
		{"catalog.workers", "catalog-workers"},
		{"auth.api_key", "api-key"},
		{"limits.max_model_bytes", "max-model-bytes"},
		{"limits.max_concurrent_encodes", "max-concurrent-encodes"},
		{"limits.queue_timeout", "queue-timeout"},
		{"logging.level", "log-level"},
		{"logging.format", "log-format"},
	}

	for _, b := range bindings {
		flag := rootCmd.Flags().Lookup(b.flag)
		if flag == nil {
			continue
		}
		_ = viper.BindPFlag(b.key, flag)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.SetConfigName("aivm")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())
	bindFlags()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
