// Package rtpout packetizes coded frames as RTP/H.264 and sends them over
// UDP, reading RTCP receiver reports off the return path for loss/jitter
// visibility. It is a plain packetizer, not a WebRTC peer: no ICE, no DTLS,
// no negotiation — the far end is a fixed address.
package rtpout

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var log = telemetry.L("rtpout")

const h264ClockRate = 90000

// Stats is the latest receiver-report view of the session.
type Stats struct {
	PacketsSent  uint64
	BytesSent    uint64
	FractionLost float64
	TotalLost    uint32
	Jitter       uint32
	ReportsSeen  uint64
}

// Sink packetizes Annex-B frames into RTP and tracks RTCP feedback.
type Sink struct {
	conn       *net.UDPConn
	packetizer rtp.Packetizer
	frameTicks uint32

	mu       sync.Mutex
	stats    Stats
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New dials addr (host:port) and prepares the H.264 packetizer. framerate
// sets the RTP timestamp stride per frame on the 90 kHz clock.
func New(addr string, mtu int, payloadType uint8, ssrc uint32, framerate uint32) (*Sink, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve rtp sink addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial rtp sink: %w", err)
	}

	if framerate == 0 {
		framerate = 30
	}

	s := &Sink{
		conn: conn,
		packetizer: rtp.NewPacketizer(
			uint16(mtu),
			payloadType,
			ssrc,
			&codecs.H264Payloader{},
			rtp.NewRandomSequencer(),
			h264ClockRate,
		),
		frameTicks: h264ClockRate / framerate,
		done:       make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rtcpLoop()
	}()

	return s, nil
}

// Send fragments one coded frame into RTP packets (FU-A for NALs over the
// MTU, handled by the payloader) and writes them to the socket.
func (s *Sink) Send(buf h264.CodedBitstreamBuffer) error {
	packets := s.packetizer.Packetize(buf.Bitstream, s.frameTicks)

	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshal rtp packet: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("write rtp packet: %w", err)
		}

		s.mu.Lock()
		s.stats.PacketsSent++
		s.stats.BytesSent += uint64(len(raw))
		s.mu.Unlock()
	}

	return nil
}

// Stats returns the latest send counters and receiver-report feedback.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop closes the socket and waits for the RTCP reader to exit.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	s.wg.Wait()
}

// rtcpLoop reads compound RTCP packets off the return path and folds
// receiver-report blocks into the stats snapshot.
func (s *Sink) rtcpLoop() {
	buf := make([]byte, 1500)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Warn("rtcp read failed", telemetry.KeyError, err)
			}
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			log.Warn("rtcp parse failed", telemetry.KeyError, err)
			continue
		}

		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				s.mu.Lock()
				s.stats.FractionLost = float64(report.FractionLost) / 256.0
				s.stats.TotalLost = report.TotalLost
				s.stats.Jitter = report.Jitter
				s.stats.ReportsSeen++
				s.mu.Unlock()

				log.Debug("receiver report",
					"fraction_lost", float64(report.FractionLost)/256.0,
					"total_lost", report.TotalLost,
					"jitter", report.Jitter)
			}
		}
	}
}
