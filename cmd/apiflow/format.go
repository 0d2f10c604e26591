package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"apiflow/internal/engine"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *engine.RunReport:
		return formatRunReportHuman(v), nil
	case *StatusResult:
		return formatStatusHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatRunReportHuman(r *engine.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s (%s)\n", r.RunID, r.Mode)
	if r.NoOp {
		fmt.Fprintf(&b, "  Revision %s already applied, nothing to do.\n", shortRev(r.ToRevision))
		return strings.TrimRight(b.String(), "\n")
	}

	if r.FromRevision != "" {
		fmt.Fprintf(&b, "  Revisions: %s -> %s\n", shortRev(r.FromRevision), shortRev(r.ToRevision))
	} else {
		fmt.Fprintf(&b, "  Revision:  %s (full scan)\n", shortRev(r.ToRevision))
	}
	fmt.Fprintf(&b, "  Files:     +%d ~%d -%d\n", r.FilesAdded, r.FilesModified, r.FilesDeleted)
	fmt.Fprintf(&b, "  Endpoints: %d affected, %d generated, %d archived\n",
		len(r.AffectedEndpoints), len(r.GeneratedArtifacts), len(r.ArchivedEndpoints))

	if len(r.ParseFailures) > 0 {
		fmt.Fprintf(&b, "  Parse failures (%d):\n", len(r.ParseFailures))
		for _, f := range r.ParseFailures {
			fmt.Fprintf(&b, "    - %s\n", f)
		}
	}
	if len(r.GenerationFailures) > 0 {
		fmt.Fprintf(&b, "  Generation failures (%d):\n", len(r.GenerationFailures))
		for _, k := range r.GenerationFailures {
			fmt.Fprintf(&b, "    - %s\n", k)
		}
	}

	fmt.Fprintf(&b, "  Status:    %s (%dms)\n", r.Status, r.DurationMs)
	return strings.TrimRight(b.String(), "\n")
}

func formatStatusHuman(s *StatusResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s\n", s.RepoRoot)
	if !s.Initialized {
		b.WriteString("  Not initialized. Run `apiflow index` first.")
		return b.String()
	}
	fmt.Fprintf(&b, "  Last revision: %s\n", shortRev(s.LastRevision))
	fmt.Fprintf(&b, "  Current HEAD:  %s\n", shortRev(s.CurrentRevision))
	if s.Pending {
		b.WriteString("  Pending changes: yes (run `apiflow update`)\n")
	} else {
		b.WriteString("  Pending changes: no\n")
	}
	fmt.Fprintf(&b, "  Indexed files: %d\n", s.IndexedFiles)
	fmt.Fprintf(&b, "  Endpoints:     %d", s.Endpoints)
	return b.String()
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
