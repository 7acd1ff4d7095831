package version

import "strings"

// Set with -ldflags "-X .../internal/version.Version=..." at build time.
var (
	Version    = "dev"
	Commit     = "unknown"
	BuildTime  = ""
	SourceRepo = "https://github.com/gitpan/Authen-Simple-IMAP"
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildTime  string `json:"build_time,omitempty"`
	SourceRepo string `json:"source_repo"`
}

func Current() Info {
	out := Info{
		Version:    strings.TrimSpace(Version),
		Commit:     strings.TrimSpace(Commit),
		BuildTime:  strings.TrimSpace(BuildTime),
		SourceRepo: strings.TrimSpace(SourceRepo),
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	if out.Commit == "" {
		out.Commit = "unknown"
	}
	return out
}

func (i Info) String() string {
	s := i.Version + " (" + i.Commit
	if i.BuildTime != "" {
		s += ", " + i.BuildTime
	}
	return s + ")"
}
