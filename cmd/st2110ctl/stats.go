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
	"bufio"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var statsAddr string

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsAddr, "addr", "http://localhost:9110/metrics", "st2110d metrics endpoint")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print a running daemon's st2110_* counters",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := printStats(statsAddr); err != nil {
			log.Fatal(err)
		}
	},
}

// printStats scrapes addr's Prometheus text exposition and prints
// only the st2110_* lines, since the endpoint also carries the
// process/go runtime collectors client_golang registers by default.
func printStats(addr string) error {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: status %s", addr, resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "st2110_") {
			fmt.Println(line)
		}
	}
	return scanner.Err()
}
