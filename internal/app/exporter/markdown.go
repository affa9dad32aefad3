package exporter

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

func newHTMLConverter() *md.Converter {
	return md.NewConverter("", true, &md.Options{EscapeMode: "disabled"})
}

// toMarkdown converts an HTML body. On conversion errors the HTML is kept.
func (r *exportRun) toMarkdown(html string) string {
	out, err := r.converter.ConvertString(html)
	if err != nil {
		r.log.Warn("html to markdown conversion failed", "error", err)
		return html
	}
	return out
}

func writeMarkdownTableRow(buf *bytes.Buffer, row []string) {
	buf.WriteString("|")
	for _, c := range row {
		cell := strings.ReplaceAll(c, "|", "\\|")
		cell = strings.ReplaceAll(cell, "\n", " ")
		buf.WriteString(" " + strings.TrimSpace(cell) + " |")
	}
	buf.WriteString("\n")
}

// renderResultsTable lists the possible outcomes of a rollable table.
func (r *exportRun) renderResultsTable(results []worlddomain.TableResult) string {
	var buf bytes.Buffer
	buf.WriteString("### Table Results\n\n")
	buf.WriteString("| Range | Description |\n")
	buf.WriteString("| ---   | --- |\n")
	for _, res := range results {
		text := rewriteReferences(res.Text)
		writeMarkdownTableRow(&buf, []string{fmt.Sprintf("%d-%d", res.Range[0], res.Range[1]), text})
	}
	return buf.String()
}
