// Package buildinfo exposes version metadata for the spindle binary.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Version is overridable at link time:
//
//	go build -ldflags "-X github.com/agusx1211/spindle/internal/buildinfo.Version=1.2.3"
var Version = "0.1.0"

// Current returns the effective version: the linker override when set,
// otherwise the module version from build info.
func Current() string {
	v := strings.TrimSpace(Version)
	if bi, ok := debug.ReadBuildInfo(); ok {
		if (v == "" || v == "0.1.0") && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			return bi.Main.Version
		}
	}
	if v == "" {
		return "dev"
	}
	return v
}
