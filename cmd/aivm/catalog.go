package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aivmlib-go/aivmlib/internal/catalog"
	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/queue"
	"github.com/aivmlib-go/aivmlib/internal/storage"
)

func newCatalogCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the local index of AIVM files",
		Long: `The catalog records the manifests of AIVM files kept in the configured
storage (a local directory or an S3 bucket) so they can be listed and
looked up by UUID without reading every file.`,
	}
	d := config.Default()
	pf := cmd.PersistentFlags()
	pf.String("catalog-path", d.Catalog.Path, "Catalog database directory (default: user cache dir)")
	pf.String("storage-backend", d.Storage.Backend, "Model storage backend (local, s3)")
	pf.String("storage-root", d.Storage.Root, "Directory for the local storage backend")
	pf.String("s3-bucket", d.Storage.S3.Bucket, "Bucket for the s3 storage backend")
	pf.Int("workers", d.Catalog.Workers, "Concurrent indexing workers")
	c.bind(pf, "catalog.path", "catalog-path")
	c.bind(pf, "storage.backend", "storage-backend")
	c.bind(pf, "storage.root", "storage-root")
	c.bind(pf, "storage.s3.bucket", "s3-bucket")
	c.bind(pf, "catalog.workers", "workers")

	cmd.AddCommand(
		newCatalogAddCmd(c),
		newCatalogListCmd(c),
		newCatalogShowCmd(c),
		newCatalogRemoveCmd(c),
	)
	return cmd
}

// openCatalog opens the configured catalog. The caller must close it.
func (c *cli) openCatalog() (*catalog.Catalog, error) {
	dir, err := c.catalogDir()
	if err != nil {
		return nil, err
	}
	return catalog.Open(catalog.Options{Dir: dir, Logger: c.logger})
}

func newCatalogAddCmd(c *cli) *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:   "add [path...]",
		Short: "Index AIVM files from storage",
		Long: `Index AIVM files. Paths are relative to the configured storage. With --scan,
every .aivm file under each path (or the whole store) is indexed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !scan && len(args) == 0 {
				return errors.New("no paths given (use --scan to index the whole store)")
			}
			ctx := cmd.Context()

			store, err := storage.New(c.cfg.Storage, c.cfg.Limits.MaxModelBytes)
			if err != nil {
				return err
			}
			cat, err := c.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			pool := queue.NewPool(queue.Config{Workers: c.cfg.Catalog.Workers})
			defer pool.Shutdown(ctx)
			ix := catalog.NewIndexer(cat, store, pool, c.logger)

			var results []queue.Result
			if scan {
				prefixes := args
				if len(prefixes) == 0 {
					prefixes = []string{""}
				}
				for _, p := range prefixes {
					r, err := ix.Scan(ctx, p)
					if err != nil {
						return err
					}
					results = append(results, r...)
				}
			} else {
				results = ix.IndexAll(ctx, args)
			}
			return reportResults(cmd, results)
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "Index every .aivm file under the given paths")
	return cmd
}

func reportResults(cmd *cobra.Command, results []queue.Result) error {
	tw := newTable("Path", "Status", "Time")
	tw.SetColumnConfigs(rightAlign(3))
	failed := 0
	for _, r := range results {
		status := "indexed"
		if r.Err != nil {
			failed++
			status = r.Err.Error()
		}
		tw.AppendRow(table.Row{r.Name, status, r.Duration.Round(time.Millisecond).String()})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to index", failed, len(results))
	}
	return nil
}

func newCatalogListCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			cat, err := c.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch output {
			case outputJSON:
				return writeJSON(w, entries)
			case outputYAML:
				return writeYAML(w, entries)
			}
			renderEntries(w, entries, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, json, yaml")
	return cmd
}

func parseModelID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid model UUID %q", s)
	}
	return id, nil
}

func newCatalogShowCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show one indexed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			id, err := parseModelID(args[0])
			if err != nil {
				return err
			}
			cat, err := c.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			e, err := cat.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch output {
			case outputJSON:
				return writeJSON(w, e)
			case outputYAML:
				return writeYAML(w, e)
			}
			renderEntry(w, e, newStyles(shouldColorize(w)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, json, yaml")
	return cmd
}

func newCatalogRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <uuid>",
		Short: "Remove a model from the catalog (the file is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseModelID(args[0])
			if err != nil {
				return err
			}
			cat, err := c.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			return nil
		},
	}
}
