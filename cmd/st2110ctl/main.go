/*
Copyright (c) st2110go contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// st2110ctl is an operator CLI for inspecting st2110d sessions: it
// validates and dumps config files and pulls the Prometheus metrics a
// running daemon exposes.
package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd is the CLI's entry point; subcommands register themselves
// onto it from this package's other files via init.
var rootCmd = &cobra.Command{
	Use:   "st2110ctl",
	Short: "inspect and validate st2110d sessions",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
