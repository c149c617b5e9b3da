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

package st20

import (
	"github.com/st2110go/mtl/dedup"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
)

// NewRedundantRXSession builds an ST 2022-7 seamless-protection RX
// session across a primary and redundant port pair in one call,
// instead of requiring the caller to separately configure PortCount
// and DedupMode. Port 0 is primary, port 1 is redundant; both are
// merged by the same dedup state §4.B describes.
func NewRedundantRXSession(cfg RXConfig, ring *slotring.Ring, st *stats.Session) (*RXSession, error) {
	cfg.PortCount = 2
	cfg.DedupMode = dedup.TimestampAndSeq
	return NewRXSession(cfg, ring, st)
}
