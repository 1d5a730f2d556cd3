package context

import (
	"fmt"
	"runtime/debug"
)

// VersionInfo contains the application version and build metadata.
type VersionInfo struct {
	Version   string
	GoVersion string
	Commit    string
}

// GetVersion returns the application version from the build information.
func GetVersion() (*VersionInfo, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fmt.Errorf("failed reading build information")
	}

	v := &VersionInfo{
		Version:   info.Main.Version,
		GoVersion: info.GoVersion,
	}
	if v.Version == "" || v.Version == "(devel)" {
		v.Version = "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Commit = setting.Value
		}
	}

	return v, nil
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	s := v.Version
	if v.Commit != "" {
		commit := v.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		s = fmt.Sprintf("%s (%s)", s, commit)
	}
	return fmt.Sprintf("%s %s", s, v.GoVersion)
}
