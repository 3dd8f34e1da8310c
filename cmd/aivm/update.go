package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/schema"
)

func newUpdateCmd(c *cli) *cobra.Command {
	var metadataPath, output string
	cmd := &cobra.Command{
		Use:   "update-metadata <file>",
		Short: "Replace the metadata of an AIVM file",
		Long: `Replace the metadata of an AIVM file with the contents of a JSON document
in the format printed by "show-metadata -o json". Comments and trailing
commas are allowed. Model weights are copied unchanged.

  aivm update-metadata model.aivm -m metadata.jsonc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := args[0]
			dst := output
			if dst == "" {
				dst = src
			}

			raw, err := c.readFile(ctx, metadataPath)
			if err != nil {
				return err
			}
			md, err := schema.ParseMetadata(jsonc.ToJSON(raw))
			if err != nil {
				return err
			}
			data, err := c.readFile(ctx, src)
			if err != nil {
				return err
			}
			out, err := container.Encode(data, md)
			if err != nil {
				return err
			}
			if err := c.writeFile(ctx, dst, out, true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s)\n", dst, humanize.IBytes(uint64(len(out))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&metadataPath, "metadata", "m", "", "Metadata JSON or JSONC file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: update in place)")
	_ = cmd.MarkFlagRequired("metadata")
	return cmd
}
