//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// secretsFilePath is the fallback secret store on platforms without a
// keychain: a 0600 YAML file mapping service to account to value.
func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "secrets.yaml")
}

type secretsFile map[string]map[string]string

func loadSecrets() (secretsFile, error) {
	var s secretsFile
	if err := readYAML(secretsFilePath(), &s); err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if s == nil {
		s = make(secretsFile)
	}
	return s, nil
}

func keychainExec(service, account string) ([]byte, error) {
	s, err := loadSecrets()
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	s, err := loadSecrets()
	if err != nil {
		return err
	}
	if s[service] == nil {
		s[service] = make(map[string]string)
	}
	s[service][account] = value
	return writeYAML(secretsFilePath(), s)
}

func keychainDelete(service, account string) error {
	s, err := loadSecrets()
	if err != nil {
		return err
	}
	if _, ok := s[service][account]; !ok {
		return nil
	}
	delete(s[service], account)
	return writeYAML(secretsFilePath(), s)
}
