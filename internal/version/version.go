// Package version reports build metadata injected with -ldflags and
// completed from the embedded module build info.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Set at link time, e.g.
//
//	-X github.com/keithlinneman/kprobe/internal/version.Version=v1.2.0
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildId    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

var readBuildInfo = debug.ReadBuildInfo

// Get merges the linker variables with VCS stamps from the build info.
// Linker values win; an unset VCSDirty stays nil rather than false.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := readBuildInfo()
	if !ok {
		return out
	}
	if out.GoVersion == "" {
		out.GoVersion = bi.GoVersion
	}
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
		case "vcs.modified":
			if out.VCSDirty == nil && (s.Value == "true" || s.Value == "false") {
				d := s.Value == "true"
				out.VCSDirty = &d
			}
		}
	}
	return out
}

// ShortCommit is the first 12 characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// String is the one-line form printed by "kprobe version".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (commit %s", i.Version, i.ShortCommit())
	if i.VCSDirty != nil && *i.VCSDirty {
		b.WriteString(", dirty")
	}
	if i.BuildDate != "" {
		fmt.Fprintf(&b, ", built %s", i.BuildDate)
	}
	if i.GoVersion != "" {
		fmt.Fprintf(&b, ", %s", i.GoVersion)
	}
	b.WriteString(")")
	return b.String()
}
