//go:build darwin

package config

import (
	"bytes"
	"errors"
	"os/exec"
)

// errItemNotFound is the exit status of `security` for a missing item.
const errItemNotFound = 44

func security(args ...string) ([]byte, error) {
	return exec.Command("security", args...).Output()
}

func keychainExec(service, account string) ([]byte, error) {
	out, err := security("find-generic-password", "-s", service, "-a", account, "-w")
	return bytes.TrimSpace(out), err
}

func keychainSet(service, account, value string) error {
	_, err := security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
	return err
}

func keychainDelete(service, account string) error {
	_, err := security("delete-generic-password", "-s", service, "-a", account)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errItemNotFound {
		return nil
	}
	return err
}
