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

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/st2110go/mtl/mtlcfg"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "inspect session config files",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump <path>",
	Short: "validate a config file and print it back out normalized",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := mtlcfg.Load(args[0])
		if err != nil {
			log.Fatal(err)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Fprint(os.Stdout, string(out))
	},
}
