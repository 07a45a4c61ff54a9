// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ConfigurationFileDirectory is searched before the default locations.
var ConfigurationFileDirectory string

// LoadConfiguration merges <name>.{toml,yaml,json} from the config search
// path into viper and enables environment overrides, so upload_uri can be
// set as UPLOAD_URI. It returns the file used, or "" when none was found
// and the file is optional.
func LoadConfiguration(name string, required bool) (string, error) {
	viper.SetConfigName(name)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/." + name)
	viper.AddConfigPath("/etc/" + name + "/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	err := viper.MergeInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return viper.ConfigFileUsed(), nil
	case errors.As(err, &notFound) && !required:
		return "", nil
	default:
		return "", fmt.Errorf("load %s config: %w", name, err)
	}
}
