package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/aivmlib-go/aivmlib/internal/catalog"
	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/schema"
)

type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(colorize bool) styles {
	if !colorize {
		plain := lipgloss.NewStyle()
		return styles{title: plain, section: plain, dim: plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00afaf")),
		section: lipgloss.NewStyle().Bold(true).Underline(true),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	}
}

func newTable(headers ...string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	if len(headers) > 0 {
		row := make(table.Row, len(headers))
		for i, h := range headers {
			row[i] = h
		}
		tw.AppendHeader(row)
	}
	return tw
}

func rightAlign(columns ...int) []table.ColumnConfig {
	out := make([]table.ColumnConfig, len(columns))
	for i, n := range columns {
		out[i] = table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft}
	}
	return out
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(int64(*v))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// renderMetadata writes the human-readable view of a decoded file.
func renderMetadata(w io.Writer, md *schema.Metadata, layout *container.Layout, fileSize int64, st styles) {
	m := md.Manifest

	fmt.Fprintln(w, st.title.Render(m.Name)+" "+st.dim.Render("v"+m.Version))
	if m.Description != "" {
		fmt.Fprintln(w, m.Description)
	}
	fmt.Fprintln(w)

	info := newTable()
	info.AppendRows([]table.Row{
		{"UUID", m.UUID.String()},
		{"Manifest Version", m.ManifestVersion},
		{"Architecture", string(m.ModelArchitecture)},
		{"Format", string(m.ModelFormat)},
		{"Creators", orDash(strings.Join(m.Creators, ", "))},
		{"Training Epochs", optionalInt(m.TrainingEpochs)},
		{"Training Steps", optionalInt(m.TrainingSteps)},
		{"File Size", humanize.IBytes(uint64(fileSize))},
	})
	if layout != nil {
		info.AppendRows([]table.Row{
			{"Header Size", humanize.IBytes(uint64(layout.HeaderSize))},
			{"Tensors", humanize.Comma(int64(layout.TensorCount))},
			{"Payload Digest", layout.PayloadDigest},
		})
	}
	if md.StyleVectors != nil {
		info.AppendRow(table.Row{"Style Vectors", humanize.IBytes(uint64(len(md.StyleVectors)))})
	}
	fmt.Fprintln(w, info.Render())

	fmt.Fprintln(w)
	fmt.Fprintln(w, st.section.Render("Speakers"))
	speakers := newTable("Local ID", "Name", "UUID", "Languages", "Styles")
	speakers.SetColumnConfigs(rightAlign(1))
	for _, sp := range m.Speakers {
		speakers.AppendRow(table.Row{sp.LocalID, sp.Name, sp.UUID.String(), strings.Join(sp.SupportedLanguages, ", "), len(sp.Styles)})
	}
	fmt.Fprintln(w, speakers.Render())

	fmt.Fprintln(w)
	fmt.Fprintln(w, st.section.Render("Styles"))
	styleTable := newTable("Speaker", "Local ID", "Style", "Voice Samples")
	styleTable.SetColumnConfigs(rightAlign(2, 4))
	for _, sp := range m.Speakers {
		for _, s := range sp.Styles {
			styleTable.AppendRow(table.Row{sp.Name, s.LocalID, s.Name, len(s.VoiceSamples)})
		}
	}
	fmt.Fprintln(w, styleTable.Render())

	if hp := md.HyperParameters; hp != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, st.section.Render("Hyperparameters"))
		hpTable := newTable()
		hpTable.AppendRows([]table.Row{
			{"Model Name", hp.ModelName},
			{"JP-Extra", strconv.FormatBool(hp.Data.UseJPExtra)},
			{"Speakers (spk2id)", formatIDMap(hp.Data.Spk2ID)},
			{"Styles (style2id)", formatIDMap(hp.Data.Style2ID)},
		})
		fmt.Fprintln(w, hpTable.Render())
	}
}

func formatIDMap(m schema.IDMap) string {
	parts := make([]string, len(m))
	for i, e := range m {
		parts[i] = fmt.Sprintf("%s=%d", e.Name, e.ID)
	}
	return orDash(strings.Join(parts, ", "))
}

// renderEntries writes the catalog listing.
func renderEntries(w io.Writer, entries []catalog.Entry, now time.Time) {
	tw := newTable("Name", "Version", "UUID", "Speakers", "Styles", "Size", "Indexed", "Source")
	tw.SetColumnConfigs(rightAlign(4, 5, 6))
	for _, e := range entries {
		tw.AppendRow(table.Row{
			e.Name,
			e.Version,
			e.UUID,
			len(e.Speakers),
			e.StyleCount(),
			humanize.IBytes(uint64(e.FileSize)),
			humanize.RelTime(e.IndexedAt, now, "ago", "from now"),
			e.Source,
		})
	}
	tw.AppendFooter(table.Row{english.Plural(len(entries), "model", "")})
	fmt.Fprintln(w, tw.Render())
}

// renderEntry writes one catalog entry.
func renderEntry(w io.Writer, e *catalog.Entry, st styles) {
	fmt.Fprintln(w, st.title.Render(e.Name)+" "+st.dim.Render("v"+e.Version))
	info := newTable()
	info.AppendRows([]table.Row{
		{"UUID", e.UUID},
		{"Architecture", e.Architecture},
		{"Format", e.ModelFormat},
		{"Creators", orDash(strings.Join(e.Creators, ", "))},
		{"Source", e.Source},
		{"File Size", humanize.IBytes(uint64(e.FileSize))},
		{"Payload Digest", orDash(e.PayloadDigest)},
		{"Indexed At", e.IndexedAt.Format(time.RFC3339)},
	})
	fmt.Fprintln(w, info.Render())

	speakers := newTable("Local ID", "Speaker", "UUID", "Styles")
	speakers.SetColumnConfigs(rightAlign(1))
	for _, sp := range e.Speakers {
		names := make([]string, len(sp.Styles))
		for i, s := range sp.Styles {
			names[i] = fmt.Sprintf("%s (%d)", s.Name, s.LocalID)
		}
		speakers.AppendRow(table.Row{sp.LocalID, sp.Name, sp.UUID, strings.Join(names, ", ")})
	}
	fmt.Fprintln(w, speakers.Render())
}
