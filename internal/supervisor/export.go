package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agusx1211/spindle/internal/spool"
)

// Export writes the given spools ("all" for every record) to a file as JSON
// or markdown and returns the path written.
func (s *Supervisor) Export(spoolIDs, format, outputPath string) (string, error) {
	var (
		spools []*spool.Spool
		err    error
	)
	if strings.EqualFold(strings.TrimSpace(spoolIDs), "all") {
		spools, err = s.store.List(nil)
		if err != nil {
			return "", err
		}
	} else {
		for _, id := range strings.Split(spoolIDs, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			sp, err := s.store.Get(id)
			if err != nil {
				return "", err
			}
			spools = append(spools, sp)
		}
	}
	if len(spools) == 0 {
		return "", fmt.Errorf("no spools to export")
	}

	var (
		content []byte
		ext     string
	)
	switch format {
	case "md":
		content = []byte(exportMarkdown(spools))
		ext = "md"
	case "", "json":
		content, err = json.MarshalIndent(spools, "", "  ")
		if err != nil {
			return "", err
		}
		ext = "json"
	default:
		return "", fmt.Errorf("invalid format %q (want json or md)", format)
	}

	path := outputPath
	if path == "" {
		path = filepath.Join(s.cfg.Root, "export."+ext)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func exportMarkdown(spools []*spool.Spool) string {
	var b strings.Builder
	b.WriteString("# Spool Export\n\n")
	b.WriteString("Generated: " + time.Now().Format(time.RFC3339) + "\n\n")
	for _, sp := range spools {
		fmt.Fprintf(&b, "## %s\n", sp.ID)
		fmt.Fprintf(&b, "**Status:** %s\n", sp.Status)
		fmt.Fprintf(&b, "**Created:** %s\n\n", sp.CreatedAt.Format(time.RFC3339))
		b.WriteString("### Prompt\n")
		fmt.Fprintf(&b, "```\n%s\n```\n\n", sp.Prompt)
		b.WriteString("### Result\n")
		fmt.Fprintf(&b, "```\n%s\n```\n\n---\n\n", sp.Result)
	}
	return b.String()
}
