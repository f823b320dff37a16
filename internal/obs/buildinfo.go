package obs

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Build identifies the running ptw binary.
type Build struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Environment string `json:"environment"`
}

var (
	buildOnce sync.Once

	ptwBuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ptw_build_info",
			Help: "Permit-to-work service build, always 1.",
		},
		[]string{"version", "commit", "environment"},
	)
)

// RecordBuild publishes b as ptw_build_info. A missing or "dev" commit is
// filled from the VCS revision stamped by the Go toolchain, when present.
func RecordBuild(b Build) Build {
	if b.Commit == "" || b.Commit == "dev" {
		b.Commit = vcsRevision(b.Commit)
	}
	buildOnce.Do(func() {
		prometheus.MustRegister(ptwBuildInfo)
	})
	ptwBuildInfo.Reset()
	ptwBuildInfo.WithLabelValues(b.Version, b.Commit, b.Environment).Set(1)
	return b
}

func vcsRevision(fallback string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fallback
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return fallback
}
