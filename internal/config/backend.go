package config

import "strings"

// ConfigBackend is the persistent store behind `sif config set`. Keys are
// dotted "section.field" names. macOS keeps them in the user defaults
// domain; other platforms use a sectioned YAML file under XDG_CONFIG_HOME.
// Secrets never go through a backend.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// splitKey splits "section.field". Keys without a dot land in section "".
func splitKey(key string) (section, field string) {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return section, field
}
