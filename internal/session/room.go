package session

import (
	"context"

	"github.com/haasonsaas/roomviz/internal/events"
)

// Room returns the room image triplet.
func (s *Session) Room() RoomImages {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// BeginUpload installs a new room. Any in-flight render and active job are
// cancelled, and the visualization state, history, angle cache, edit mode and
// parked clarification are reset. The live canvas is kept, so the next render
// is a full one. The returned generation identifies the upload for
// StartJob.
func (s *Session) BeginUpload(original string) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.cancelWorkLocked()
	s.generation++
	gen := s.generation

	s.room = RoomImages{Room: original, Original: original}
	s.uploadedNew = true
	s.rendered = ""
	s.visualized = map[string]int{}
	s.history.Clear()
	s.angles = map[string]string{}
	s.edit = nil
	s.pending = nil
	s.lastActivity = s.now()
	s.mu.Unlock()

	s.Publish(events.RoomUploaded, map[string]any{"generation": gen})
	return gen, nil
}

// StartJob records jobID as the active furniture-removal job for the upload
// identified by generation. The returned context is cancelled when the job
// is superseded or the session closes.
func (s *Session) StartJob(generation uint64, jobID string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if generation != s.generation {
		return nil, ErrStaleJob
	}
	if s.jobCancel != nil {
		s.jobCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.jobID = jobID
	s.jobCancel = cancel
	return ctx, nil
}

// ActiveJob returns the active job ID, or "".
func (s *Session) ActiveJob() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// JobActive reports whether jobID is still the session's active job.
func (s *Session) JobActive(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jobID != "" && s.jobID == jobID
}

// CompleteJob adopts a furniture-free room as both the displayed room and
// the clean baseline.
func (s *Session) CompleteJob(jobID, clean string) error {
	return s.finishJob(jobID, func() {
		s.room.Room = clean
		s.room.Clean = clean
	})
}

// FallbackJob makes the original upload the clean baseline after a failed or
// timed out job.
func (s *Session) FallbackJob(jobID string) error {
	return s.finishJob(jobID, func() {
		s.room.Room = s.room.Original
		s.room.Clean = s.room.Original
	})
}

// EndJob clears the active job without touching the room.
func (s *Session) EndJob(jobID string) error {
	return s.finishJob(jobID, nil)
}

func (s *Session) finishJob(jobID string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if jobID == "" || s.jobID != jobID {
		return ErrStaleJob
	}
	if apply != nil {
		apply()
	}
	if s.jobCancel != nil {
		s.jobCancel()
	}
	s.jobID = ""
	s.jobCancel = nil
	s.lastActivity = s.now()
	return nil
}

// SetCleanRoom installs a clean baseline loaded from storage, for sessions
// that resume a room whose preparation finished earlier.
func (s *Session) SetCleanRoom(clean string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.Clean == "" {
		s.room.Clean = clean
		if s.room.Room == "" || s.room.Room == s.room.Original {
			s.room.Room = clean
		}
	}
}
