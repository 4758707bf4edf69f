// Package wsout streams coded bitstream buffers to a WebSocket endpoint as
// binary frames. It sits downstream of the encoder's Poll loop; dropped
// frames on a congested or reconnecting link never feed back into
// prediction decisions.
package wsout

import (
	"encoding/binary"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var log = telemetry.L("wsout")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Sink manages the WebSocket connection and the outbound frame queue.
type Sink struct {
	endpoint string

	conn      *websocket.Conn
	connMu    sync.RWMutex
	frameChan chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a sink for the given ws:// or wss:// endpoint (http/https are
// rewritten). The connection is established by Start.
func New(endpoint string) (*Sink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	return &Sink{
		endpoint:  u.String(),
		frameChan: make(chan []byte, 30),
		done:      make(chan struct{}),
	}, nil
}

// Start runs the connect/reconnect loop in the background.
func (s *Sink) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconnectLoop()
	}()
}

// Stop closes the connection and waits for the loop to exit.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
	log.Info("sink stopped")
}

// Send enqueues one coded frame as a binary message: 8-byte big-endian
// timestamp followed by the bitstream bytes. Frames sent while the link is
// down wait in the queue; a frame is dropped when the queue is full.
func (s *Sink) Send(buf h264.CodedBitstreamBuffer) {
	frame := make([]byte, 8, 8+len(buf.Bitstream))
	binary.BigEndian.PutUint64(frame, buf.Metadata.Timestamp)
	frame = append(frame, buf.Bitstream...)

	select {
	case s.frameChan <- frame:
	default:
		log.Warn("frame queue full, dropping frame", telemetry.KeyTimestamp, buf.Metadata.Timestamp)
	}
}

func (s *Sink) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.endpoint, nil)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	log.Info("connected", "endpoint", s.endpoint)
	return nil
}

func (s *Sink) reconnectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Warn("connection failed", telemetry.KeyError, err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			select {
			case <-s.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = initialBackoff

		done := make(chan struct{})
		go s.readPump(done)
		s.writePump(done)
		close(done)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// readPump discards inbound messages; it exists to service pong frames and
// to notice the peer closing the connection.
func (s *Sink) readPump(done chan struct{}) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-done:
			return
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", telemetry.KeyError, err)
			}
			return
		}
	}
}

func (s *Sink) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.done:
			return

		case frame := <-s.frameChan:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Warn("write error", telemetry.KeyError, err)
				return
			}

		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn("ping failed", telemetry.KeyError, err)
				return
			}
		}
	}
}
