package cmd

import (
	"os"
	"path/filepath"
)

const appName = "fuse-img2heic"

func defaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName), nil
}
