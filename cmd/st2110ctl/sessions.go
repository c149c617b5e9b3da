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
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/st2110go/mtl/mtlcfg"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "inspect the configs a deployment runs",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "list and validate every config file under dir",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := listSessions(args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

func listSessions(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cfg, err := mtlcfg.Load(path)
		if err != nil {
			fmt.Printf("%-32s INVALID: %v\n", e.Name(), err)
			continue
		}
		fmt.Printf("%-32s %-6s %-12s ports=%d\n", cfg.Static.Name, dirName(cfg.Static.Direction), mediaName(cfg.Static.Media), len(cfg.Static.Ports))
	}
	return nil
}

func mediaName(m mtlcfg.MediaType) string {
	switch m {
	case mtlcfg.MediaVideo:
		return "video"
	case mtlcfg.MediaAudio:
		return "audio"
	case mtlcfg.MediaAncillary:
		return "ancillary"
	case mtlcfg.MediaFastMetadata:
		return "fastmetadata"
	default:
		return "unknown"
	}
}

func dirName(d mtlcfg.Direction) string {
	if d == mtlcfg.RX {
		return "rx"
	}
	return "tx"
}
