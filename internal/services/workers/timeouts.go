package workers

import (
	"time"

	"github.com/ternarybob/easel/internal/common"
)

// Timeouts bundles every deadline and interval governing worker I/O.
type Timeouts struct {
	Probe        time.Duration
	Submit       time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	Artifact     time.Duration
	Job          time.Duration
	Keepalive    time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// TimeoutsFromConfig parses the workers config section, falling back to the
// documented defaults for omitted fields.
func TimeoutsFromConfig(cfg *common.WorkersConfig) Timeouts {
	return Timeouts{
		Probe:        common.Duration(cfg.ProbeTimeout, 3*time.Second),
		Submit:       common.Duration(cfg.SubmitTimeout, 30*time.Second),
		PollInterval: common.Duration(cfg.PollInterval, time.Second),
		PollTimeout:  common.Duration(cfg.PollTimeout, 5*time.Second),
		Artifact:     common.Duration(cfg.ArtifactTimeout, 60*time.Second),
		Job:          common.Duration(cfg.JobTimeout, 300*time.Second),
		Keepalive:    common.Duration(cfg.KeepaliveEvery, 30*time.Second),
		ReconnectMin: common.Duration(cfg.ReconnectMin, time.Second),
		ReconnectMax: common.Duration(cfg.ReconnectMax, 30*time.Second),
	}
}
