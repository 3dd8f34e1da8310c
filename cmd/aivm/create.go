package main

import (
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/schema"
	"github.com/aivmlib-go/aivmlib/internal/synth"
)

type createOptions struct {
	model           string
	hyperParameters string
	styleVectors    string
	architecture    string
	icon            string
	output          string
	contentIDs      bool
	force           bool
}

func newCreateCmd(c *cli) *cobra.Command {
	opts := createOptions{}
	cmd := &cobra.Command{
		Use:   "create-aivm",
		Short: "Create an AIVM file from a Safetensors model",
		Long: `Generate metadata from a Style-Bert-VITS2 config.json and style vectors and
embed it in a Safetensors model, producing an AIVM file.

  aivm create-aivm -m model.safetensors -p config.json -s style_vectors.npy -o model.aivm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.create(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "Safetensors model file")
	f.StringVarP(&opts.hyperParameters, "hyper-parameters", "p", "", "Hyperparameters file (config.json)")
	f.StringVarP(&opts.styleVectors, "style-vectors", "s", "", "Style vectors file (style_vectors.npy)")
	f.StringVarP(&opts.architecture, "architecture", "a", string(schema.ModelArchitectureStyleBertVITS2JPExtra), "Model architecture")
	f.StringVar(&opts.icon, "icon", "", "PNG or JPEG icon for every speaker")
	f.StringVarP(&opts.output, "output", "o", "", "Output AIVM file")
	f.BoolVar(&opts.contentIDs, "content-ids", false, "Derive UUIDs from the model content instead of generating random ones")
	f.BoolVarP(&opts.force, "force", "f", false, "Overwrite the output file if it exists")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("hyper-parameters")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *cli) create(cmd *cobra.Command, opts createOptions) error {
	ctx := cmd.Context()

	model, err := c.readFile(ctx, opts.model)
	if err != nil {
		return err
	}
	hp, err := c.readFile(ctx, opts.hyperParameters)
	if err != nil {
		return err
	}
	var sv []byte
	if opts.styleVectors != "" {
		if sv, err = c.readFile(ctx, opts.styleVectors); err != nil {
			return err
		}
	}

	var synthOpts []synth.Option
	if opts.contentIDs {
		synthOpts = append(synthOpts, synth.WithContentDerivedIDs())
	}
	if opts.icon != "" {
		img, err := c.readFile(ctx, opts.icon)
		if err != nil {
			return err
		}
		synthOpts = append(synthOpts, synth.WithSpeakerIcon(schema.EncodeDataURL(http.DetectContentType(img), img)))
	}

	md, err := synth.Synthesize(schema.ModelArchitecture(opts.architecture), hp, sv, synthOpts...)
	if err != nil {
		return err
	}
	out, err := container.Encode(model, md)
	if err != nil {
		return err
	}
	if err := c.writeFile(ctx, opts.output, out, opts.force); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s, %d speakers, uuid %s)\n",
		opts.output, humanize.IBytes(uint64(len(out))), len(md.Manifest.Speakers), md.Manifest.UUID)
	return nil
}
