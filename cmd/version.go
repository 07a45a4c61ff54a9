// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Set via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "zaptus",
	Name:      "build_info",
	Help:      "Always 1, labelled with the running build",
}, []string{"version", "commit", "tus_version", "go_version"})

func init() {
	debug.Registry().MustRegister(buildInfo)
	buildInfo.WithLabelValues(Version, GitCommit, protocol.Version, runtime.Version()).Set(1)

	versionCmd.Flags().Bool("short", false, "Print only the version")
	rootCmd.AddCommand(versionCmd)

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("zaptus {{.Version}}\n")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		printVersion(cmd.OutOrStdout(), short)
	},
}

func printVersion(w io.Writer, short bool) {
	if short {
		fmt.Fprintln(w, Version)
		return
	}
	fmt.Fprintf(w, "zaptus %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	fmt.Fprintf(w, "  tus protocol: %s\n", protocol.Version)
	fmt.Fprintf(w, "  go:           %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
