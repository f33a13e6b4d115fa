// Package version holds build information injected with
//
//	-ldflags "-X github.com/reviewapps-dev/azdeploy/internal/version.Version=..."
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func GoVersion() string {
	return runtime.Version()
}

// String is the one-line form printed by "azdeploy version".
func String() string {
	return fmt.Sprintf("azdeploy %s (%s) built %s, %s", Version, Commit, BuildDate, GoVersion())
}
