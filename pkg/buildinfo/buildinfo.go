// Package buildinfo reports the version stamped into the binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Set at build time:
//
//	-X github.com/otherjamesbrown/penf-crm/pkg/buildinfo.Version=v0.3.0
//	-X github.com/otherjamesbrown/penf-crm/pkg/buildinfo.Commit=4f1c2ab
//	-X github.com/otherjamesbrown/penf-crm/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Name is the program name reported in Info.
const Name = "penf-crm"

// Info holds build information.
type Info struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the build info of the running binary.
func Get() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String returns a one-liner like "v0.3.0 (4f1c2ab, 2026-10-01T09:00:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// Handler serves Get as JSON. It is mounted at /version next to /metrics.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get())
	}
}
