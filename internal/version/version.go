package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/lockbank"

// buildVersion is set via -ldflags "-X pkt.systems/lockbank/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Module  string
	Version string
	Dirty   bool
}

// String renders "module version".
func (i Info) String() string {
	return i.Module + " " + i.Version
}

// Read collects version details from the linker flag or embedded build info.
func Read() Info {
	info := Info{Module: defaultModule, Version: "v0.0.0-unknown"}
	bi, ok := debug.ReadBuildInfo()
	if ok {
		if path := strings.TrimSpace(bi.Main.Path); path != "" {
			info.Module = path
		}
	}
	if v := strings.TrimSpace(buildVersion); v != "" {
		info.Version = v
		return info
	}
	if !ok {
		return info
	}
	if v := strings.TrimSpace(bi.Main.Version); v != "" && v != "(devel)" {
		info.Version = v
		return info
	}
	if v, dirty := fromVCS(bi.Settings); v != "" {
		info.Version = v
		info.Dirty = dirty
	}
	return info
}

// Current returns the best available version string.
func Current() string {
	return Read().Version
}

func fromVCS(settings []debug.BuildSetting) (string, bool) {
	var revision, stamp string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			stamp = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" || stamp == "" {
		return "", false
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return "", false
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	v := "v0.0.0-" + at.UTC().Format("20060102150405") + "-" + revision
	if dirty {
		v += "+dirty"
	}
	return v, dirty
}
