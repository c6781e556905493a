// Package version exposes the hookgate build version.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	// Version is set at build time from VERSION.txt
	Version = "dev"

	// GitCommit is set at build time to the commit the binary was built from
	GitCommit = "unknown"
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("hookgate %s (commit %s, %s, %s)", i.Version, i.GitCommit, i.GoVersion, i.Platform)
}

// JSON returns the indented JSON form of i
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
