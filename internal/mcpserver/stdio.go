package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds a single JSON-RPC frame on stdio (prompts can be large).
const maxLineSize = 16 * 1024 * 1024

// ServeStdio reads newline-delimited JSON-RPC requests from r and writes
// responses to w until EOF or context cancellation. Requests are handled
// concurrently; writes are serialized.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)

	write := func(resp *response) {
		if resp == nil {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		w.Write(data)
		w.Write([]byte("\n"))
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// spin_wait blocks for its whole deadline; handling frames
		// concurrently keeps unspool and spin usable meanwhile.
		wg.Add(1)
		go func() {
			defer wg.Done()
			write(s.Handle(ctx, line))
		}()
	}

	wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdio: %w", err)
	}
	return nil
}
