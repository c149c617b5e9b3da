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

package session

import (
	"fmt"

	"github.com/st2110go/mtl/st20"
	"github.com/st2110go/mtl/st30"
	"github.com/st2110go/mtl/st40"
	"github.com/st2110go/mtl/st41"
	"github.com/st2110go/mtl/stats"
	"github.com/st2110go/mtl/transport"
)

// NewVideoRX creates an ST20 RX session behind the façade (§4.G
// "one constructor each for video/audio/anc/fm with a type-specific
// config struct embedding a common base").
func NewVideoRX(base BaseConfig, cfg st20.RXConfig, st *stats.Session) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: video rx ring: %w", err)
	}
	rx, err := st20.NewRXSession(cfg, ring, st)
	if err != nil {
		return nil, fmt.Errorf("session: video rx: %w", err)
	}
	h := newHandle(KindVideo, DirRX, base, ring)
	h.rxImpl = rx
	h.poll = rx
	return h, nil
}

// NewVideoTX creates an ST20 TX session behind the façade.
func NewVideoTX(base BaseConfig, cfg st20.TXConfig, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: video tx ring: %w", err)
	}
	tx, err := st20.NewTXSession(cfg, ring, clock, st, sendFunc)
	if err != nil {
		return nil, fmt.Errorf("session: video tx: %w", err)
	}
	h := newHandle(KindVideo, DirTX, base, ring)
	h.tick = tx
	h.poll = tx
	return h, nil
}

// NewAudioRX creates an ST30 RX session behind the façade.
func NewAudioRX(base BaseConfig, cfg st30.RXConfig, st *stats.Session) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: audio rx ring: %w", err)
	}
	rx, err := st30.NewRXSession(cfg, ring, st)
	if err != nil {
		return nil, fmt.Errorf("session: audio rx: %w", err)
	}
	h := newHandle(KindAudio, DirRX, base, ring)
	h.rxImpl = rx
	return h, nil
}

// NewAudioTX creates an ST30 TX session behind the façade.
func NewAudioTX(base BaseConfig, cfg st30.TXConfig, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: audio tx ring: %w", err)
	}
	tx, err := st30.NewTXSession(cfg, ring, clock, st, sendFunc)
	if err != nil {
		return nil, fmt.Errorf("session: audio tx: %w", err)
	}
	h := newHandle(KindAudio, DirTX, base, ring)
	h.tick = tx
	return h, nil
}

// NewAncillaryRX creates an ST40 RX session behind the façade.
func NewAncillaryRX(base BaseConfig, cfg st40.RXConfig, st *stats.Session) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: ancillary rx ring: %w", err)
	}
	rx, err := st40.NewRXSession(cfg, ring, st)
	if err != nil {
		return nil, fmt.Errorf("session: ancillary rx: %w", err)
	}
	h := newHandle(KindAncillary, DirRX, base, ring)
	h.rxImpl = rx
	return h, nil
}

// NewAncillaryTX creates an ST40 TX session behind the façade.
func NewAncillaryTX(base BaseConfig, cfg st40.TXConfig, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: ancillary tx ring: %w", err)
	}
	tx, err := st40.NewTXSession(cfg, ring, clock, st, sendFunc)
	if err != nil {
		return nil, fmt.Errorf("session: ancillary tx: %w", err)
	}
	h := newHandle(KindAncillary, DirTX, base, ring)
	h.tick = tx
	return h, nil
}

// NewFastMetadataRX creates an ST41 RX session behind the façade.
func NewFastMetadataRX(base BaseConfig, cfg st41.RXConfig, st *stats.Session) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: fastmetadata rx ring: %w", err)
	}
	rx, err := st41.NewRXSession(cfg, ring, st)
	if err != nil {
		return nil, fmt.Errorf("session: fastmetadata rx: %w", err)
	}
	h := newHandle(KindFastMetadata, DirRX, base, ring)
	h.rxImpl = rx
	return h, nil
}

// NewFastMetadataTX creates an ST41 TX session behind the façade.
func NewFastMetadataTX(base BaseConfig, cfg st41.TXConfig, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*Handle, error) {
	ring, err := base.newRing()
	if err != nil {
		return nil, fmt.Errorf("session: fastmetadata tx ring: %w", err)
	}
	tx, err := st41.NewTXSession(cfg, ring, clock, st, sendFunc)
	if err != nil {
		return nil, fmt.Errorf("session: fastmetadata tx: %w", err)
	}
	h := newHandle(KindFastMetadata, DirTX, base, ring)
	h.tick = tx
	return h, nil
}
