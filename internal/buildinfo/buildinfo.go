// Package buildinfo carries version stamps set with -ldflags "-X".
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns a compact build identifier for window titles.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		if len(Commit) > 12 {
			return Commit[:12]
		}
		return Commit
	}
	return "dev"
}

// String is the boot banner form: "weensy <short>", plus the build date
// when one was stamped.
func String() string {
	s := fmt.Sprintf("weensy %s", Short())
	if Date != "" && Date != "unknown" {
		s += " built " + Date
	}
	return s
}
