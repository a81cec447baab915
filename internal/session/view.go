package session

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/changes"
	"github.com/haasonsaas/roomviz/internal/history"
)

// View is a read-only snapshot of a session for transports.
type View struct {
	ID             string            `json:"id"`
	Owner          string            `json:"owner,omitempty"`
	Products       []catalog.Product `json:"products"`
	Visualized     map[string]int    `json:"visualized"`
	NeedsRerender  bool              `json:"needs_rerender"`
	Pending        changes.Kind      `json:"pending_change"`
	RenderedImage  string            `json:"rendered_image,omitempty"`
	RoomImage      string            `json:"room_image,omitempty"`
	CleanRoomImage string            `json:"clean_room_image,omitempty"`
	HasOriginal    bool              `json:"has_original_upload"`
	History        HistoryView       `json:"history"`
	HistoryState   history.State     `json:"history_state"`
	Busy           bool              `json:"busy"`
	ActiveJobID    string            `json:"active_job_id,omitempty"`
	Angles         []string          `json:"angles,omitempty"`
	Edit           *EditState        `json:"edit,omitempty"`
	Clarification  *Clarification    `json:"clarification,omitempty"`
	ChatSessionID  string            `json:"chat_session_id,omitempty"`
	Curation       json.RawMessage   `json:"curation,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivity   time.Time         `json:"last_activity"`
}

// View returns a consistent snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.canvas.Products()
	v := View{
		ID:             s.id,
		Owner:          s.owner,
		Products:       live,
		Visualized:     cloneCounts(s.visualized),
		Pending:        changes.Detect(live, s.visualized),
		RenderedImage:  s.rendered,
		RoomImage:      s.room.Room,
		CleanRoomImage: s.room.Clean,
		HasOriginal:    s.room.Original != "",
		History:        s.historyViewLocked(),
		HistoryState:   s.history.State(),
		Busy:           s.active != nil,
		ActiveJobID:    s.jobID,
		Edit:           s.edit.clone(),
		ChatSessionID:  s.chatSessionID,
		Curation:       cloneRaw(s.curation),
		CreatedAt:      s.created,
		LastActivity:   s.lastActivity,
	}
	v.NeedsRerender = v.Pending != changes.NoChange
	for name := range s.angles {
		v.Angles = append(v.Angles, name)
	}
	sort.Strings(v.Angles)
	if s.pending != nil {
		c := *s.pending
		v.Clarification = &c
	}
	return v
}
