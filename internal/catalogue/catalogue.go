package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Job is one watched process and the command that brings it back
type Job struct {
	Name        string `json:"name"`
	WatchFor    string `json:"watch_for"`
	RecoverWith string `json:"recover_with"`
	Group       string `json:"group,omitempty"`
	Cwd         string `json:"cwd"`
	Tries       int    `json:"tries"`
	Delay       int    `json:"delay"`

	pattern *regexp.Regexp
}

// Grouped reports whether the job shares its retry budget with a group
func (j *Job) Grouped() bool {
	return j.Group != ""
}

// Key is the state key of the entity the job's retries are booked against
func (j *Job) Key() string {
	if j.Grouped() {
		return j.Group
	}
	return j.Name
}

// Matches reports whether a process command line satisfies watch_for
func (j *Job) Matches(command string) bool {
	if j.pattern == nil {
		return strings.Contains(command, j.WatchFor)
	}
	return j.pattern.MatchString(command)
}

// Group shares one retry budget and one aggregate health threshold
type Group struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Tries   int    `json:"tries"`
	Delay   int    `json:"delay"`
	Cwd     string `json:"cwd,omitempty"`
}

// Settings are the non-catalogue parts of the configuration
type Settings struct {
	StateFile       string           `json:"state_file"`
	StateBackend    string           `json:"state_backend"`
	StateDSN        string           `json:"-"`
	LogDir          string           `json:"log_dir"`
	Census          string           `json:"census"`
	MetricsTextfile string           `json:"metrics_textfile,omitempty"`
	Telemetry       TelemetrySection `json:"telemetry"`
	Tracing         TracingSection   `json:"tracing"`
}

// StateLocation returns where the state store lives: state_dsn for the
// postgres and redis backends, the expanded state_file otherwise. The run lock is always taken next to
// state_file, so it stays host local even when the state is not.
func (s Settings) StateLocation() string {
	switch s.StateBackend {
	case "postgres", "redis":
		return s.StateDSN
	}
	return ExpandHome(s.StateFile)
}

// LockBase returns the path the run lock is derived from
func (s Settings) LockBase() string {
	return ExpandHome(s.StateFile)
}

// Catalogue is a validated, internally consistent set of jobs and groups
type Catalogue struct {
	Jobs        []*Job
	Groups      []*Group
	Settings    Settings
	Fingerprint string

	groups map[string]*Group
}

// Group looks up a group by name
func (c *Catalogue) Group(name string) (*Group, bool) {
	g, ok := c.groups[name]
	return g, ok
}

// Job looks up a job by name
func (c *Catalogue) Job(name string) (*Job, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return nil, false
}

// New validates jobs and groups and assembles a catalogue. Grouped jobs
// inherit tries and delay from their group; member counts are derived from
// job references.
func New(groups []*Group, jobs []*Job) (*Catalogue, error) {
	c := &Catalogue{
		Jobs:   jobs,
		Groups: groups,
		groups: make(map[string]*Group, len(groups)),
	}

	for _, g := range groups {
		if g.Name == "" {
			return nil, &ConfigError{Section: "groups", Field: "name", Message: "group without a name"}
		}
		if _, dup := c.groups[g.Name]; dup {
			return nil, &ConfigError{Section: groupSection(g.Name), Message: "duplicate group name"}
		}
		if g.Tries < 1 {
			return nil, &ConfigError{Section: groupSection(g.Name), Field: "tries", Message: "must be a positive integer"}
		}
		if g.Delay < 0 {
			return nil, &ConfigError{Section: groupSection(g.Name), Field: "delay", Message: "must not be negative"}
		}
		g.Members = 0
		c.groups[g.Name] = g
	}

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		section := jobSection(j.Name)
		if j.Name == "" {
			return nil, &ConfigError{Section: "jobs", Field: "name", Message: "job without a name"}
		}
		if seen[j.Name] {
			return nil, &ConfigError{Section: section, Message: "duplicate job name"}
		}
		seen[j.Name] = true

		if j.WatchFor == "" {
			return nil, &ConfigError{Section: section, Field: "watch_for", Message: "is required"}
		}
		if strings.TrimSpace(j.RecoverWith) == "" {
			return nil, &ConfigError{Section: section, Field: "recover_with", Message: "is required"}
		}

		pattern, err := regexp.Compile(j.WatchFor)
		if err != nil {
			return nil, &ConfigError{Section: section, Field: "watch_for", Message: fmt.Sprintf("invalid pattern: %v", err)}
		}
		j.pattern = pattern

		if j.Grouped() {
			g, ok := c.groups[j.Group]
			if !ok {
				return nil, &ConfigError{Section: section, Field: "group", Message: fmt.Sprintf("references a non-existing group %q", j.Group)}
			}
			g.Members++
			j.Tries = g.Tries
			j.Delay = g.Delay
			if j.Cwd == "" {
				j.Cwd = g.Cwd
			}
		}

		if j.Tries < 1 {
			return nil, &ConfigError{Section: section, Field: "tries", Message: "must be a positive integer"}
		}
		if j.Delay < 0 {
			return nil, &ConfigError{Section: section, Field: "delay", Message: "must not be negative"}
		}
		if j.Cwd == "" {
			j.Cwd = DefaultCwd
		}
	}

	c.Fingerprint = Fingerprint(c)
	return c, nil
}

// Build resolves a parsed file into a catalogue: defaults from main, group
// inheritance, and the checks only visible at file level (tries or delay set
// on a grouped job, or missing everywhere for an ungrouped one).
func Build(file *File) (*Catalogue, error) {
	file.Main.applyDefaults()

	groups := make([]*Group, 0, len(file.Groups))
	groupCwd := make(map[string]string, len(file.Groups))
	for _, gs := range file.Groups {
		section := groupSection(gs.Name)
		if gs.Tries == nil {
			return nil, &ConfigError{Section: section, Field: "tries", Message: "no tries set for group"}
		}
		if gs.Delay == nil {
			return nil, &ConfigError{Section: section, Field: "delay", Message: "no delay set for group"}
		}
		groups = append(groups, &Group{
			Name:  gs.Name,
			Tries: *gs.Tries,
			Delay: *gs.Delay,
			Cwd:   gs.Cwd,
		})
		groupCwd[gs.Name] = gs.Cwd
	}

	jobs := make([]*Job, 0, len(file.Jobs))
	for _, js := range file.Jobs {
		section := jobSection(js.Name)
		job := &Job{
			Name:        js.Name,
			WatchFor:    js.WatchFor,
			RecoverWith: js.RecoverWith,
			Group:       js.Group,
			Cwd:         js.Cwd,
		}

		if js.Group != "" {
			if js.Tries != nil {
				return nil, &ConfigError{Section: section, Field: "tries", Message: "ambiguous: do not set tries on a job that belongs to a group"}
			}
			if js.Delay != nil {
				return nil, &ConfigError{Section: section, Field: "delay", Message: "ambiguous: do not set delay on a job that belongs to a group"}
			}
			if job.Cwd == "" && groupCwd[js.Group] == "" {
				job.Cwd = file.Main.Cwd
			}
		} else {
			tries, delay := js.Tries, js.Delay
			if tries == nil {
				tries = file.Main.Tries
			}
			if delay == nil {
				delay = file.Main.Delay
			}
			if tries == nil {
				return nil, &ConfigError{Section: section, Field: "tries", Message: "not set on the job nor in main"}
			}
			if delay == nil {
				return nil, &ConfigError{Section: section, Field: "delay", Message: "not set on the job nor in main"}
			}
			job.Tries = *tries
			job.Delay = *delay
			if job.Cwd == "" {
				job.Cwd = file.Main.Cwd
			}
		}

		jobs = append(jobs, job)
	}

	switch file.Main.StateBackend {
	case "file", "sqlite":
	case "postgres", "redis":
		if file.Main.StateDSN == "" {
			return nil, &ConfigError{Section: "main", Field: "state_dsn", Message: fmt.Sprintf("is required for the %s backend", file.Main.StateBackend)}
		}
	default:
		return nil, &ConfigError{Section: "main", Field: "state_backend", Message: fmt.Sprintf("unknown backend %q", file.Main.StateBackend)}
	}
	switch file.Main.Census {
	case "gopsutil", "proc":
	default:
		return nil, &ConfigError{Section: "main", Field: "census", Message: fmt.Sprintf("unknown census provider %q", file.Main.Census)}
	}
	if z := file.Telemetry.Zabbix; z != nil && z.AgentdConf == "" {
		return nil, &ConfigError{Section: "telemetry.zabbix", Field: "agentd_conf", Message: "is required when zabbix is configured"}
	}
	if z := file.Telemetry.Zabbix; z != nil && z.Rate < 0 {
		return nil, &ConfigError{Section: "telemetry.zabbix", Field: "rate", Message: "must not be negative"}
	}
	if n := file.Telemetry.NATS; n != nil && n.URL == "" {
		return nil, &ConfigError{Section: "telemetry.nats", Field: "url", Message: "is required when nats is configured"}
	}

	c, err := New(groups, jobs)
	if err != nil {
		return nil, err
	}

	c.Settings = Settings{
		StateFile:       file.Main.StateFile,
		StateBackend:    file.Main.StateBackend,
		StateDSN:        file.Main.StateDSN,
		LogDir:          file.Main.LogDir,
		Census:          file.Main.Census,
		MetricsTextfile: file.Main.MetricsTextfile,
		Telemetry:       file.Telemetry,
		Tracing:         file.Tracing,
	}
	return c, nil
}

// ExpandHome replaces a leading ~ with the current user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
