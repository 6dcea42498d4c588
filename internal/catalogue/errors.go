package catalogue

import "fmt"

// ConfigError reports an inconsistent catalogue. These are always fatal:
// the recovery engine assumes it is handed a consistent catalogue.
type ConfigError struct {
	Section string // "main", "group:<name>", "job:<name>"
	Field   string
	Message string
}

// Error implements error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config [%s] %s: %s", e.Section, e.Field, e.Message)
	}
	return fmt.Sprintf("config [%s]: %s", e.Section, e.Message)
}

func jobSection(name string) string {
	return "job:" + name
}

func groupSection(name string) string {
	return "group:" + name
}
