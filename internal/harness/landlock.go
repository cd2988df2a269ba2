package harness

import (
	"os"
	"strconv"
	"strings"
)

// landlockAvailable probes whether the host can enforce codex's filesystem
// sandbox: kernel >= 5.13 with the landlock LSM exposed under securityfs.
// On hosts without /proc (non-Linux) the probe reports false and the adapter
// substitutes the bypass flag.
func landlockAvailable() bool {
	release, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	major, minor, ok := parseKernelRelease(string(release))
	if !ok {
		return false
	}
	if major < 5 || (major == 5 && minor < 13) {
		return false
	}
	_, err = os.Stat("/sys/kernel/security/landlock")
	return err == nil
}

// parseKernelRelease extracts "major.minor" from a release string like
// "6.8.0-45-generic".
func parseKernelRelease(release string) (major, minor int, ok bool) {
	release = strings.TrimSpace(release)
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minorStr := parts[1]
	for i, c := range minorStr {
		if c < '0' || c > '9' {
			minorStr = minorStr[:i]
			break
		}
	}
	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
