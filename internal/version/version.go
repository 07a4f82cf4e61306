// Package version exposes build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/emergent-company/entitygraph/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo is reported by the debug endpoint and attached to traces.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
}

func Info() BuildInfo {
	return BuildInfo{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

// String renders "entitygraph <version> (<commit>, built <time>)".
func (b BuildInfo) String() string {
	return fmt.Sprintf("entitygraph %s (%s, built %s)", b.Version, b.GitCommit, b.BuildTime)
}
