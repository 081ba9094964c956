package api

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/kellanvoss/linkgraph/internal/jobstore"
)

/*
Responsibilities

- Render a completed job's Metrics as a human-readable Markdown report
- Convert that Markdown to HTML for the GET /report/{domain}.html route

This is additive to the JSON report (spec.md §6); it shares the same
MetricsRecord and adds no new data.
*/

func renderReportMarkdown(domain string, record jobstore.MetricsRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Link report: %s\n\n", domain)
	fmt.Fprintf(&b, "_Updated %s_\n\n", record.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Pages crawled: **%d**\n", record.PagesCrawled)
	fmt.Fprintf(&b, "- Referring domains: **%d**\n", record.ReferringDomains)
	fmt.Fprintf(&b, "- Total backlinks: **%d** (%d follow / %d nofollow)\n", record.TotalBacklinks, record.FollowCount, record.NofollowCount)
	fmt.Fprintf(&b, "- Follow percentage: **%.2f%%**\n", record.FollowPct)
	fmt.Fprintf(&b, "- Estimated authority (estimated, local heuristic only): **%.1f**\n\n", record.EstimatedDA)

	if len(record.Backlinks) == 0 {
		b.WriteString("No backlinks recorded for this crawl.\n")
		return b.String()
	}

	b.WriteString("| Source | Target | Anchor | Nofollow |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, bl := range record.Backlinks {
		anchor := strings.ReplaceAll(bl.Anchor, "|", "\\|")
		fmt.Fprintf(&b, "| %s | %s | %s | %t |\n", bl.SourceURL, bl.TargetURL, anchor, bl.Nofollow)
	}

	return b.String()
}

func renderReportHTML(domain string, record jobstore.MetricsRecord) []byte {
	return markdown.ToHTML([]byte(renderReportMarkdown(domain, record)), nil, nil)
}
