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

// st2110d runs a single media session, RX or TX, from a static YAML
// config: it binds the wire port(s), builds the session façade for
// whichever media kind the config names, and serves its statistics on
// a Prometheus endpoint until signalled to stop.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/st2110go/mtl/dedup"
	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/mtlcfg"
	"github.com/st2110go/mtl/pg"
	"github.com/st2110go/mtl/session"
	"github.com/st2110go/mtl/st20"
	"github.com/st2110go/mtl/st30"
	"github.com/st2110go/mtl/st40"
	"github.com/st2110go/mtl/st41"
	"github.com/st2110go/mtl/stats"
	"github.com/st2110go/mtl/transport"
)

// Defaults used to size non-video rings, since mtlcfg.StaticConfig
// carries no per-media packet budget field of its own.
const (
	defaultAudioFrameBytes = 4800 // audio frame buffer; 1ms of 48kHz/24bit/2ch is 288 bytes
	defaultAncPacketBytes  = 1500 // one path-MTU Ethernet frame
)

func main() {
	var (
		configPath = flag.StringP("config", "c", "", "path to session config YAML (required)")
		iface      = flag.String("iface", "", "NIC name to enable hardware RX timestamping on; empty uses software timestamps")
		listenAddr = flag.String("listen", ":9110", "address to serve /metrics on")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		dscpValue  = flag.Int("dscp", 34, "DSCP class marked on outgoing packets (default: AF41)")
	)
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid -log-level %q: %v", *logLevel, err)
	}
	log.SetLevel(level)

	if *configPath == "" {
		log.Fatal("-config is required")
	}
	cfg, err := mtlcfg.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(cfg, *iface, *dscpValue)
	if err != nil {
		log.Fatalf("starting session %q: %v", cfg.Static.Name, err)
	}
	defer d.Close()

	go d.serveMetrics(*listenAddr)

	d.Start(ctx)
	log.Infof("session %q (%s/%s) running, ports=%d", cfg.Static.Name, mediaName(cfg.Static.Media), dirName(cfg.Static.Direction), len(cfg.Static.Ports))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	cancel()
	d.handle.Stop()
}

// daemon owns the one session this process runs plus the collaborator
// state it was built from.
type daemon struct {
	handle    *session.Handle
	stats     *stats.Session
	collector *stats.Collector
	io        packetIO
	scheduler *transport.GoroutineScheduler

	portCount int
	rxDone    chan struct{}
}

// packetIO is the subset of transport.PacketIO plus Close that both
// transport.UDPPacketIO and transport.HWTimestampPacketIO implement;
// main picks the concrete type once at startup based on -iface.
type packetIO interface {
	transport.PacketIO
	Close() error
}

func newDaemon(cfg *mtlcfg.Config, iface string, dscpValue int) (*daemon, error) {
	s := cfg.Static
	st := &stats.Session{}
	collector := stats.NewCollector(s.Name, st)
	if err := prometheus.Register(collector); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	io, portCount, clock, err := newPacketIO(s, iface, dscpValue)
	if err != nil {
		return nil, err
	}

	scheduler := transport.NewGoroutineScheduler()
	base := session.BaseConfig{
		RingDepth: s.RingDepth,
		PortCount: portCount,
		Lcore:     0,
	}
	if s.EnableRTCP {
		base.Flags |= session.FlagEnableRTCP
	}

	sendFunc := func(pkt []byte) error {
		_, err := io.Send(0, [][]byte{pkt})
		return err
	}

	handle, err := buildHandle(base, s, cfg.Dynamic, st, clock, sendFunc)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		handle:    handle,
		stats:     st,
		collector: collector,
		io:        io,
		scheduler: scheduler,
		portCount: portCount,
		rxDone:    make(chan struct{}),
	}
	return d, nil
}

// newPacketIO binds cfg's wire ports and returns a PacketIO plus a
// Clock sourced from the same socket when hardware/software RX
// timestamping is in play.
func newPacketIO(s mtlcfg.StaticConfig, ifaceName string, dscpValue int) (packetIO, int, transport.Clock, error) {
	if len(s.Ports) == 0 {
		return nil, 0, nil, fmt.Errorf("config has no ports")
	}

	if ifaceName != "" {
		ifi, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("resolving iface %q: %w", ifaceName, err)
		}
		addr := &net.UDPAddr{IP: net.ParseIP(s.Ports[0].IP), Port: s.Ports[0].UDPPort}
		hw, err := transport.NewHWTimestampPacketIO(addr, ifi, dscpValue)
		if err != nil {
			return nil, 0, nil, err
		}
		return hw, 1, transport.NewHWTimestampClock(hw), nil
	}

	addrs := make([]*net.UDPAddr, len(s.Ports))
	for i, p := range s.Ports {
		addrs[i] = &net.UDPAddr{IP: net.ParseIP(p.IP), Port: p.UDPPort}
	}
	io, err := transport.NewUDPPacketIO(addrs, dscpValue)
	if err != nil {
		return nil, 0, nil, err
	}
	return io, len(addrs), transport.SystemClock{}, nil
}

// buildHandle dispatches on media/direction to the matching
// session.New* constructor (§4.G's one constructor per media kind).
func buildHandle(base session.BaseConfig, s mtlcfg.StaticConfig, dyn mtlcfg.DynamicConfig, st *stats.Session, clock transport.Clock, sendFunc func([]byte) error) (*session.Handle, error) {
	switch s.Media {
	case mtlcfg.MediaVideo:
		format, err := pg.ParseFormat(s.Format)
		if err != nil {
			return nil, err
		}
		base.BufSize = format.BytesPerLine(s.Width) * s.Height
		if s.Direction == mtlcfg.RX {
			return session.NewVideoRX(base, st20.RXConfig{
				Format:         format,
				Width:          s.Width,
				Height:         s.Height,
				PortCount:      base.PortCount,
				DedupMode:      dedup.TimestampAndSeq,
				DedupThreshold: s.DedupThreshold,
				RecNumOFO:      s.RecordNumOFO,
				DetectFormat:   s.DetectFormat,
				ParseTiming:    s.ParseTiming,
				Rate:           epoch.Rate{Num: s.FPSNum, Den: s.FPSDen},
				MediaClockRate: 90000,
				Clock:          clock,
			}, st)
		}
		return session.NewVideoTX(base, st20.TXConfig{
			Format:         format,
			Width:          s.Width,
			Height:         s.Height,
			Rate:           epoch.Rate{Num: s.FPSNum, Den: s.FPSDen},
			MediaClockRate: 90000,
			TrOffsetNS:     dyn.TrOffsetNS,
			Pacing:         dyn.Pacing,
			PayloadType:    s.PayloadType,
			SSRC:           s.SSRC,
			UserPacing:      dyn.UserPacing,
			ExactUserPacing: dyn.ExactUserPacing,
			StaticPadding:   dyn.StaticPadding,
			PadIntervalPkts: dyn.PadIntervalPkts,
			RTCPBufferSize:  s.RTCPBufferSize,
			TXHangDetectMS:  dyn.TXHangDetectMS,
		}, clock, st, sendFunc)

	case mtlcfg.MediaAudio:
		base.BufSize = defaultAudioFrameBytes
		if s.Direction == mtlcfg.RX {
			return session.NewAudioRX(base, st30.RXConfig{
				FrameBufferSize: defaultAudioFrameBytes,
				PortCount:       base.PortCount,
				DedupThreshold:  s.DedupThreshold,
			}, st)
		}
		return session.NewAudioTX(base, st30.TXConfig{
			PayloadType: s.PayloadType,
			SSRC:        s.SSRC,
		}, clock, st, sendFunc)

	case mtlcfg.MediaAncillary:
		base.BufSize = defaultAncPacketBytes
		if s.Direction == mtlcfg.RX {
			return session.NewAncillaryRX(base, st40.RXConfig{
				MaxPacketBytes: defaultAncPacketBytes,
				PortCount:      base.PortCount,
				DedupThreshold: s.DedupThreshold,
			}, st)
		}
		return session.NewAncillaryTX(base, st40.TXConfig{
			Rate:        epoch.Rate{Num: s.FPSNum, Den: s.FPSDen},
			TrOffsetNS:  dyn.TrOffsetNS,
			PayloadType: s.PayloadType,
			SSRC:        s.SSRC,
		}, clock, st, sendFunc)

	case mtlcfg.MediaFastMetadata:
		base.BufSize = defaultAncPacketBytes
		if s.Direction == mtlcfg.RX {
			return session.NewFastMetadataRX(base, st41.RXConfig{
				MaxPacketBytes: defaultAncPacketBytes,
				PortCount:      base.PortCount,
				DedupThreshold: s.DedupThreshold,
			}, st)
		}
		return session.NewFastMetadataTX(base, st41.TXConfig{
			Rate:        epoch.Rate{Num: s.FPSNum, Den: s.FPSDen},
			TrOffsetNS:  dyn.TrOffsetNS,
			PayloadType: s.PayloadType,
			SSRC:        s.SSRC,
		}, clock, st, sendFunc)

	default:
		return nil, fmt.Errorf("unknown media type %d", s.Media)
	}
}

// Start wires the handle's TX tick into the scheduler (a no-op for RX
// handles) and, for RX, starts the packet pump pulling datagrams off
// the wire and into HandlePacket.
func (d *daemon) Start(ctx context.Context) {
	d.handle.Start(ctx, d.scheduler)
	if d.handle.Direction() == session.DirRX {
		go d.pumpRX(ctx)
	}
}

// pumpRX polls every bound port for inbound datagrams and hands each
// one to the session; it backs off briefly when a Recv comes back
// empty rather than spinning the core.
func (d *daemon) pumpRX(ctx context.Context) {
	defer close(d.rxDone)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		idle := true
		for port := 0; port < d.portCount; port++ {
			pkts, err := d.io.Recv(port)
			if err != nil {
				log.WithError(err).WithField("port", port).Warn("recv failed")
				continue
			}
			for _, pkt := range pkts {
				idle = false
				d.stats.IncPortPacket(port)
				d.handle.HandlePacket(port, pkt)
			}
		}
		if idle {
			time.Sleep(time.Millisecond)
		}
	}
}

func (d *daemon) Close() {
	prometheus.Unregister(d.collector)
	if d.io != nil {
		d.io.Close()
	}
}

func (d *daemon) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server stopped")
	}
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
