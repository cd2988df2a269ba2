package supervisor

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Peek returns the last n lines of a spool's live stdout artifact without
// touching the child. ANSI escapes from the child CLI are stripped so the
// text is safe to embed in tool results.
func (s *Supervisor) Peek(id string, n int) (string, error) {
	sp, err := s.store.Get(id)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		n = 50
	}

	data, err := os.ReadFile(sp.StdoutPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("[spool %s - %s] no output yet", id, sp.Status), nil
		}
		return "", err
	}
	if len(data) == 0 {
		return fmt.Sprintf("[spool %s - %s] output file empty", id, sp.Status), nil
	}

	text := ansi.Strip(string(data))
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	shown := lines
	if len(lines) > n {
		shown = lines[len(lines)-n:]
	}

	header := fmt.Sprintf("[spool %s - %s - %d total lines, showing last %d]\n", id, sp.Status, len(lines), len(shown))
	return header + strings.Join(shown, "\n"), nil
}
