package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is written by the pi-helper service with network details.
const DefaultEnvFile = "/run/pi-helper.env"

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
