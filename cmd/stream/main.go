// Command stream sends a raw PCM16 mono recording (or stdin) to the realtime
// transcription service in 20ms frames and prints the transcripts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/amanullahtanweer/realtime-transcriber/internal/config"
	"github.com/amanullahtanweer/realtime-transcriber/internal/session"
	"github.com/amanullahtanweer/realtime-transcriber/internal/transcriber"
)

const frameDuration = 20 * time.Millisecond

func main() {
	var (
		input      string
		language   string
		sampleRate int
		silenceMs  uint
		autoSend   bool
		fast       bool
		verbose    bool
	)
	flag.StringVar(&input, "input", "-", "Raw PCM16 little-endian mono file, - for stdin")
	flag.StringVar(&language, "language", "", "Transcription language, e.g. en")
	flag.IntVar(&sampleRate, "rate", session.DefaultSampleRate, "Input sample rate (8000 or 16000)")
	flag.UintVar(&silenceMs, "silence-ms", 1200, "Silence before the utterance is committed")
	flag.BoolVar(&autoSend, "auto-send", true, "Commit automatically after silence")
	flag.BoolVar(&fast, "fast", false, "Send frames as fast as possible instead of in real time")
	flag.BoolVar(&verbose, "v", false, "Print partial transcripts and voice state")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}

	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		r = f
	}

	s := session.New(session.Options{
		NewClient: session.RealtimeFactory(transcriber.RealtimeConfig{
			Dial: transcriber.WebsocketDialer(nil),
		}),
	})
	s.Subscribe(session.ObserverFuncs{
		Transcript: func(ev session.TranscriptEvent) {
			if ev.Final {
				fmt.Printf("%s\n", ev.Text)
			} else if verbose {
				fmt.Fprintf(os.Stderr, "... %s\n", ev.Text)
			}
		},
		VoiceState: func(st session.VoiceState) {
			if st.Err != nil {
				log.Printf("Error: %v", st.Err)
				return
			}
			if verbose && st.SilenceCountdownMs > 0 {
				fmt.Fprintf(os.Stderr, "silence, committing in %dms\n", st.SilenceCountdownMs)
			}
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := s.Start(ctx, session.Config{
		APIKey:            os.Getenv(config.EnvAPIKey),
		Language:          language,
		SampleRate:        sampleRate,
		AutoSendOnSilence: autoSend,
		SilenceDelayMs:    silenceMs,
	})
	if err != nil {
		s.Close()
		log.Fatalf("Failed to start session: %v", err)
	}

	if err := stream(ctx, s, r, sampleRate, fast); err != nil {
		log.Printf("Streaming stopped: %v", err)
	}
	if err := s.Close(); err != nil {
		log.Printf("Failed to stop session: %v", err)
	}
}

// stream reads frames of frameDuration from r and forwards them until EOF,
// cancellation or the session ending.
func stream(ctx context.Context, s *session.Session, r io.Reader, sampleRate int, fast bool) error {
	frame := make([]byte, sampleRate*2*int(frameDuration/time.Millisecond)/1000)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(r, frame)
		if n > 0 {
			if serr := s.SendAudio(frame[:n]); serr != nil {
				return serr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.Active() {
			return fmt.Errorf("session ended")
		}

		if fast {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
