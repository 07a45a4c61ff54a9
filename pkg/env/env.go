// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

// Env is the deployment environment, read from viper key "env" (ENV).
var Env = Local

// Load refreshes Env from viper. Call after configuration is loaded. An
// unknown name leaves Env unchanged.
func Load() (string, error) {
	raw := strings.ToLower(strings.TrimSpace(viper.GetString("env")))
	switch raw {
	case "":
	case Local, Production, Testing:
		Env = raw
	default:
		return Env, fmt.Errorf("unknown env %q, staying in %s", raw, Env)
	}
	return Env, nil
}

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}
