package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
)

// AudioSocket calls carry 8kHz signed linear audio.
const audioSocketSampleRate = 8000

// accept retry delays after a failed Accept
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

type Config struct {
	Host string
	Port int
}

// AudioSocketServer accepts Asterisk AudioSocket connections and runs one
// transcription session per call.
type AudioSocketServer struct {
	config   Config
	backend  *Backend
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	ready    chan struct{}
	stopOnce sync.Once
}

func New(config Config, backend *Backend) *AudioSocketServer {
	return &AudioSocketServer{
		config:   config,
		backend:  backend,
		shutdown: make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Start listens and serves until Stop is called.
func (s *AudioSocketServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop is called.
func (s *AudioSocketServer) Serve(listener net.Listener) error {
	s.listener = listener
	close(s.ready)

	log.Printf("AudioSocket server listening on %s", listener.Addr())

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			log.Printf("Accept error: %v; retrying in %v", err, delay)

			timer := time.NewTimer(delay)
			select {
			case <-s.shutdown:
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Addr returns the listening address once serving has begun.
func (s *AudioSocketServer) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

func (s *AudioSocketServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		select {
		case <-s.ready:
			s.listener.Close()
		default:
		}
	})
	s.wg.Wait()
}

func (s *AudioSocketServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	log.Printf("New connection from %s", conn.RemoteAddr())

	id, err := audiosocket.GetID(conn)
	if err != nil {
		log.Printf("Failed to get ID: %v", err)
		return
	}

	c, err := s.backend.startCall(context.Background(), id, "", audioSocketSampleRate, nil)
	if err != nil {
		log.Printf("Session %s: Failed to start transcription: %v", id, err)
		if _, werr := conn.Write(audiosocket.HangupMessage()); werr != nil {
			log.Printf("Session %s: Failed to send hangup: %v", id, werr)
		}
		return
	}
	defer c.finish()

	// unblock the read loop on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.shutdown:
			conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := audiosocket.NextMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-s.shutdown:
				default:
					log.Printf("Session %s: Failed to read message: %v", id, err)
				}
			}
			return
		}

		if msg.Kind() == audiosocket.KindHangup {
			log.Printf("Session %s: Received hangup", id)
			return
		}
		if err := handleMessage(c, msg); err != nil {
			log.Printf("Session %s: Error handling message: %v", id, err)
			return
		}
	}
}

func handleMessage(c *call, msg audiosocket.Message) error {
	switch msg.Kind() {
	case audiosocket.KindSlin:
		if payload := msg.Payload(); len(payload) > 0 {
			if err := c.sendAudio(payload); err != nil {
				return fmt.Errorf("failed to process audio: %w", err)
			}
		}

	case audiosocket.KindDTMF:
		if len(msg.Payload()) > 0 {
			log.Printf("Session %s: DTMF digit: %c", c.id, msg.Payload()[0])
		}

	case audiosocket.KindSilence:
		log.Printf("Session %s: Silence detected", c.id)

	case audiosocket.KindError:
		return fmt.Errorf("received error code: %d", msg.ErrorCode())
	}
	return nil
}
