package session

import (
	"time"

	"github.com/google/uuid"
)

// VoiceState is the capture state surfaced to the caller.
type VoiceState struct {
	SessionID          uuid.UUID
	IsRecording        bool
	IsStreaming        bool
	SilenceCountdownMs uint
	Err                error
}

// TranscriptEvent carries the transcript so far. Final marks the end of an utterance.
type TranscriptEvent struct {
	SessionID uuid.UUID
	Text      string
	Final     bool
	At        time.Time
}

// Observer receives session events in the order they happened.
type Observer interface {
	OnTranscript(ev TranscriptEvent)
	OnVoiceState(st VoiceState)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Transcript func(ev TranscriptEvent)
	VoiceState func(st VoiceState)
}

func (o ObserverFuncs) OnTranscript(ev TranscriptEvent) {
	if o.Transcript != nil {
		o.Transcript(ev)
	}
}

func (o ObserverFuncs) OnVoiceState(st VoiceState) {
	if o.VoiceState != nil {
		o.VoiceState(st)
	}
}

type multiObserver []Observer

// Multi fans events out to several observers, in argument order.
func Multi(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) OnTranscript(ev TranscriptEvent) {
	for _, o := range m {
		o.OnTranscript(ev)
	}
}

func (m multiObserver) OnVoiceState(st VoiceState) {
	for _, o := range m {
		o.OnVoiceState(st)
	}
}
