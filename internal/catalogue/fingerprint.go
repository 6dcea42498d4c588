package catalogue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type jobPrint struct {
	Name        string `json:"name"`
	WatchFor    string `json:"watch_for"`
	RecoverWith string `json:"recover_with"`
	Group       string `json:"group"`
	Cwd         string `json:"cwd"`
	Tries       int    `json:"tries"`
	Delay       int    `json:"delay"`
}

type groupPrint struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Tries   int    `json:"tries"`
	Delay   int    `json:"delay"`
	Cwd     string `json:"cwd"`
}

// Fingerprint hashes the fields that change what the watcher does or what
// discovery publishes. Declaration order does not matter.
func Fingerprint(c *Catalogue) string {
	jobs := make([]jobPrint, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		jobs = append(jobs, jobPrint{
			Name:        j.Name,
			WatchFor:    j.WatchFor,
			RecoverWith: j.RecoverWith,
			Group:       j.Group,
			Cwd:         j.Cwd,
			Tries:       j.Tries,
			Delay:       j.Delay,
		})
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Name < jobs[b].Name })

	groups := make([]groupPrint, 0, len(c.Groups))
	for _, g := range c.Groups {
		groups = append(groups, groupPrint{
			Name:    g.Name,
			Members: g.Members,
			Tries:   g.Tries,
			Delay:   g.Delay,
			Cwd:     g.Cwd,
		})
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Name < groups[b].Name })

	// Marshalling plain structs of strings and ints cannot fail.
	data, _ := json.Marshal(struct {
		Groups []groupPrint `json:"groups"`
		Jobs   []jobPrint   `json:"jobs"`
	}{groups, jobs})

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
