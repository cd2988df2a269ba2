// Package launch spawns harness children as detached processes and owns
// their termination. Children run in their own session with stdio redirected
// to per-spool sink files, so they survive supervisor restarts and MCP
// transport reconnects; the monitor loop finds their outcome on disk.
package launch

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/agusx1211/spindle/internal/debug"
)

// killGrace is how long a process group gets between SIGTERM and SIGKILL.
const killGrace = 500 * time.Millisecond

// Spec describes one detached child.
type Spec struct {
	Argv       []string // argv[0] resolved via PATH
	Dir        string   // working directory
	StdoutPath string   // created/truncated, receives child stdout
	StderrPath string   // created/truncated, receives child stderr
	Env        []string // extra KEY=VALUE entries overlaid on the inherited env
}

// Start spawns the child detached and returns its pid without waiting.
//
// The child is placed in a new session (Setsid) so it has no controlling
// terminal and killing the supervisor does not kill it; termination later
// signals the whole process group because agent CLIs fork helpers of their
// own.
func Start(spec Spec) (int, error) {
	if len(spec.Argv) == 0 {
		return 0, fmt.Errorf("launch: empty argv")
	}

	stdout, err := os.Create(spec.StdoutPath)
	if err != nil {
		return 0, fmt.Errorf("launch: creating stdout sink: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.Create(spec.StderrPath)
	if err != nil {
		return 0, fmt.Errorf("launch: creating stderr sink: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch: starting %s: %w", spec.Argv[0], err)
	}

	pid := cmd.Process.Pid
	debug.LogKV("launch", "spawned detached child", "pid", pid, "binary", spec.Argv[0], "dir", spec.Dir)

	// Reap the zombie when the child exits; the monitor loop only watches
	// the pid and the output artifacts.
	go cmd.Wait()

	return pid, nil
}

// OwnedBy reports whether the live process's command line mentions name.
// Orphan recovery uses it to detect pid reuse after a supervisor restart: a
// pid that is alive but runs some unrelated image must not be re-adopted.
// The harness tag doubles as the image name (the claude and codex adapters
// invoke binaries of the same name). On hosts without /proc the check is
// skipped and any live pid is accepted.
func OwnedBy(pid int, name string) bool {
	if _, err := os.Stat("/proc"); err != nil {
		return true
	}
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(name))
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the existence and permission check only.
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// Terminate signals the child's process group with SIGTERM and returns
// immediately; a SIGKILL escalation for anything that survives is scheduled
// after a short grace window. Callers never block on a child's exit — the
// monitor loop observes the death on a later tick. Safe to call on
// already-dead pids.
func Terminate(pid int) {
	if pid <= 0 {
		return
	}

	// Negative pid targets the process group created by Setsid. Fall back
	// to the single process if the group is already gone.
	err := syscall.Kill(-pid, syscall.SIGTERM)
	if err != nil {
		err = syscall.Kill(pid, syscall.SIGTERM)
	}
	if err == syscall.ESRCH {
		// Already reaped; nothing to escalate against.
		return
	}

	time.AfterFunc(killGrace, func() {
		if !Alive(pid) {
			return
		}
		debug.LogKV("launch", "child survived SIGTERM, escalating", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			syscall.Kill(pid, syscall.SIGKILL)
		}
	})
}

// Kill force-terminates the process group immediately, with no SIGTERM
// grace window. Used when the caller is about to reuse the child's output
// sinks and must not let the old process keep writing to them.
func Kill(pid int) {
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}
