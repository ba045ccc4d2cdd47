package onboarding

import (
	"errors"
	"io/fs"
	"os"

	"portfolioagent/config"
)

// IsFirstRun reports whether no settings file has been written yet at path
// (the default config file when path is empty).
func IsFirstRun(path string) bool {
	if path == "" {
		p, err := config.GetConfigFile()
		if err != nil {
			return true // If we can't get config dir, assume first run
		}
		path = p
	}
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}
