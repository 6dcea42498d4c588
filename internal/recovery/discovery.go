package recovery

import (
	"encoding/json"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/state"
)

// DiscoveryInterval is how long an unchanged catalogue goes without being
// republished, in seconds
const DiscoveryInterval = 3600

// DiscoveryItem describes one job to the monitoring side. The macro style
// keys let the server create per-job items from the list.
type DiscoveryItem struct {
	JobName     string `json:"{#JOB_NAME}"`
	WatchFor    string `json:"{#WATCH_FOR}"`
	RecoverWith string `json:"{#RECOVER_WITH}"`
}

// Discovery is the payload published under the discovery key
type Discovery struct {
	Data []DiscoveryItem `json:"data"`
}

// BuildDiscovery lists every job of c
func BuildDiscovery(c *catalogue.Catalogue) Discovery {
	d := Discovery{Data: make([]DiscoveryItem, 0, len(c.Jobs))}
	for _, job := range c.Jobs {
		d.Data = append(d.Data, DiscoveryItem{
			JobName:     job.Name,
			WatchFor:    job.WatchFor,
			RecoverWith: job.RecoverWith,
		})
	}
	return d
}

// JSON encodes the payload
func (d Discovery) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// DiscoveryDue reports whether the catalogue must be published: the
// fingerprint changed, the interval passed, or force is set.
func DiscoveryDue(st *state.RunState, fingerprint string, now int64, force bool) bool {
	if force {
		return true
	}
	if fingerprint != st.ConfigHash {
		return true
	}
	return now-st.LastDiscovery >= DiscoveryInterval
}
