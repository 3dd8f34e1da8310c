package main

import (
	"github.com/spf13/cobra"

	"github.com/aivmlib-go/aivmlib/internal/container"
)

func newShowCmd(c *cli) *cobra.Command {
	var (
		output string
		query  string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "show-metadata <file>",
		Short: "Show the metadata stored in an AIVM file",
		Long: `Show the manifest, hyperparameters and style vectors stored in an AIVM file.

Print the speaker names:
  aivm show-metadata model.aivm -q '.manifest.speakers[].name' -r

Export the metadata for editing with update-metadata:
  aivm show-metadata model.aivm -o json > metadata.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			data, err := c.readFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			md, err := container.Decode(data)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if query != "" {
				return runQuery(w, md, query, raw)
			}
			switch output {
			case outputJSON:
				return writeJSON(w, md)
			case outputYAML:
				return writeYAML(w, md)
			}
			layout, err := container.Inspect(data)
			if err != nil {
				return err
			}
			renderMetadata(w, md, layout, int64(len(data)), newStyles(shouldColorize(w)))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", outputText, "Output format: text, json, yaml")
	f.StringVarP(&query, "query", "q", "", "jq expression applied to the JSON form")
	f.BoolVarP(&raw, "raw", "r", false, "Print string query results without quotes")
	return cmd
}
