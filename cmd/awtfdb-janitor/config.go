// Config loading for the janitor CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	// Config key for the database file location.
	cfgKeyDatabase = "database"
)

// loadConfigDatabase reads the database path from the optional config file
// under the user config directory. A missing file is not an error.
func loadConfigDatabase() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// No config directory means no config file; flag, env, and the
		// home default still apply.
		return "", nil
	}

	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(filepath.Join(configDir, "awtfdb"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.GetString(cfgKeyDatabase), nil
}
