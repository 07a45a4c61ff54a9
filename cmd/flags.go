// Package cmd provides the zaptus command line.
package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagLoader reads settings with CLI flag precedence. A flag set explicitly
// on the command line wins; otherwise viper resolves env, config file and
// the flag default in that order.
type FlagLoader struct {
	cmd *cobra.Command
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd}
}

func load[T any](f *FlagLoader, name string, fromFlag func(*pflag.FlagSet, string) (T, error), fromViper func(string) T) T {
	if flags := f.cmd.Flags(); flags.Changed(name) {
		if v, err := fromFlag(flags, name); err == nil {
			return v
		}
	}
	return fromViper(name)
}

func (f *FlagLoader) String(name string) string {
	return load(f, name, (*pflag.FlagSet).GetString, viper.GetString)
}

func (f *FlagLoader) Int(name string) int {
	return load(f, name, (*pflag.FlagSet).GetInt, viper.GetInt)
}

func (f *FlagLoader) Float64(name string) float64 {
	return load(f, name, (*pflag.FlagSet).GetFloat64, viper.GetFloat64)
}

func (f *FlagLoader) Bool(name string) bool {
	return load(f, name, (*pflag.FlagSet).GetBool, viper.GetBool)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	return load(f, name, (*pflag.FlagSet).GetDuration, viper.GetDuration)
}

func (f *FlagLoader) StringSlice(name string) []string {
	return load(f, name, (*pflag.FlagSet).GetStringSlice, viper.GetStringSlice)
}

// Bytes parses a human readable size such as "5GiB" or "500 MB".
// An empty value or "0" means zero.
func (f *FlagLoader) Bytes(name string) (int64, error) {
	raw := f.String(name)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%s: %q is too large", name, raw)
	}
	return int64(n), nil
}
