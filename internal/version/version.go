// Package version exposes build metadata for the cargohold binary. Values
// come from -ldflags when release builds stamp them, and otherwise from the
// module build info embedded by the toolchain.
package version

import "runtime/debug"

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git revision (set via -ldflags).
	Commit = ""
	// Date is the build date (set via -ldflags).
	Date = ""
)

type Info struct {
	Version string
	Commit  string
	Date    string
}

// Resolve fills unset fields from the binary's embedded build info.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			}
		}
	}
	if info.Version == "" {
		info.Version = "devel"
	}
	return info
}

// String renders "version+commit" with a shortened revision.
func String() string {
	info := Resolve()
	commit := info.Commit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	if commit == "" {
		return info.Version
	}
	return info.Version + "+" + commit
}
