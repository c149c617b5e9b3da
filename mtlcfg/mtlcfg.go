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

// Package mtlcfg loads the static/dynamic configuration split every
// session is created from: StaticConfig covers values fixed for the
// lifetime of a session (format, ports, ring sizing, RTCP buffer);
// DynamicConfig covers values a running session may have updated
// underneath it (pacing profile tuning, user pacing, tr_offset,
// padding interval, TX hang detection).
package mtlcfg

import (
	"fmt"
	"os"

	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/pg"
	yaml "gopkg.in/yaml.v2"
)

// MediaType is the session's media kind (§4.G "one enumerated
// media-type tag").
type MediaType int

const (
	MediaVideo MediaType = iota
	MediaAudio
	MediaAncillary
	MediaFastMetadata
)

// Direction is RX or TX.
type Direction int

const (
	RX Direction = iota
	TX
)

// PacingProfile selects a §4.E TX pacing profile.
type PacingProfile int

const (
	PacingNarrow PacingProfile = iota
	PacingWide
	PacingLinear
	PacingTSN
)

// PortConfig names one of the session's 1-2 redundant wire ports
// (§3 "Session").
type PortConfig struct {
	IP                string `yaml:"ip"`
	UDPPort           int    `yaml:"udp_port"`
	MulticastSourceIP string `yaml:"multicast_source_ip,omitempty"`
}

// StaticConfig is fixed for the lifetime of a session (§3 "Session").
type StaticConfig struct {
	Name      string      `yaml:"name"`
	Media     MediaType   `yaml:"media"`
	Direction Direction   `yaml:"direction"`
	Ports     []PortConfig `yaml:"ports"`
	PayloadType int       `yaml:"payload_type"`
	SSRC        uint32    `yaml:"ssrc"`

	Width  int     `yaml:"width,omitempty"`
	Height int     `yaml:"height,omitempty"`
	FPSNum uint64  `yaml:"fps_num,omitempty"`
	FPSDen uint64  `yaml:"fps_den,omitempty"`
	Format string  `yaml:"format,omitempty"`

	RingDepth    int `yaml:"ring_depth"`
	RecordNumOFO int `yaml:"record_num_ofo,omitempty"`

	ExternalBuffer bool `yaml:"external_buffer,omitempty"`
	EnableRTCP     bool `yaml:"enable_rtcp,omitempty"`
	RTCPBufferSize int  `yaml:"rtcp_buffer_size,omitempty"`

	DedupThreshold int `yaml:"dedup_threshold,omitempty"`

	DetectFormat bool `yaml:"detect_format,omitempty"`

	ParseTiming bool `yaml:"parse_timing,omitempty"`
}

// DynamicConfig is tunable while the session is running (§4.E
// "Static padding training", pacing tuning).
type DynamicConfig struct {
	Pacing          PacingProfile `yaml:"pacing"`
	UserPacing      bool          `yaml:"user_pacing,omitempty"`
	ExactUserPacing bool          `yaml:"exact_user_pacing,omitempty"`
	TrOffsetNS      uint64        `yaml:"tr_offset_ns,omitempty"`
	StaticPadding   bool          `yaml:"static_padding,omitempty"`
	PadIntervalPkts int           `yaml:"pad_interval_pkts,omitempty"`
	TXHangDetectMS  int           `yaml:"tx_hang_detect_ms,omitempty"`
}

// Config is one session's full configuration.
type Config struct {
	Static  StaticConfig  `yaml:"static"`
	Dynamic DynamicConfig `yaml:"dynamic"`
}

// Validate checks the configuration-time error class of §7: port
// count 1-2, ring_depth a power of two, and for video positive
// width/height and fps plus a known pixel-group format name when one
// is given; rtcp_buffer_size must be a power of two when RTCP is
// enabled.
func (c *Config) Validate() error {
	s := &c.Static
	if len(s.Ports) < 1 || len(s.Ports) > 2 {
		return fmt.Errorf("mtlcfg: port count %d must be 1 or 2: %w", len(s.Ports), mtlerr.ErrInvalid)
	}
	if s.RingDepth <= 0 || s.RingDepth&(s.RingDepth-1) != 0 {
		return fmt.Errorf("mtlcfg: ring_depth %d must be a power of two: %w", s.RingDepth, mtlerr.ErrInvalid)
	}
	if s.Media == MediaVideo {
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("mtlcfg: width/height must be positive for video: %w", mtlerr.ErrInvalid)
		}
		if s.FPSNum == 0 || s.FPSDen == 0 {
			return fmt.Errorf("mtlcfg: fps_num/fps_den must be positive for video: %w", mtlerr.ErrInvalid)
		}
		if s.Format != "" {
			if _, err := pg.ParseFormat(s.Format); err != nil {
				return fmt.Errorf("mtlcfg: %v: %w", err, mtlerr.ErrInvalid)
			}
		}
	}
	if s.EnableRTCP && (s.RTCPBufferSize <= 0 || s.RTCPBufferSize&(s.RTCPBufferSize-1) != 0) {
		return fmt.Errorf("mtlcfg: rtcp_buffer_size %d must be a power of two: %w", s.RTCPBufferSize, mtlerr.ErrInvalid)
	}
	return nil
}

// Load reads and validates a session Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mtlcfg: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("mtlcfg: parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
