// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd is the h1conn demo CLI: a small cobra tool that drives
// the core over a real byte pipeline for manual smoke-testing, since
// the core itself never opens a socket.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/h1conn/common"
)

var (
	version  = common.Version
	gitHash  string
	buildTime string
)

var rootCmd = &cobra.Command{
	Use:   "h1conn",
	Short: "h1conn demo CLI",
	Long:  "h1conn is an HTTP/1.1 client-side connection core. This CLI drives it over an in-process net.Pipe against a toy echo peer for manual testing.",
}

// Execute runs the CLI, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("h1conn %s (commit %s, built %s)\n", version, gitHash, buildTime)
	},
}
