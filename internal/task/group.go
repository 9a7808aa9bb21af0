package task

import (
	"encoding/json"
	"time"
)

// GroupState is the Task Group state enum from spec §3. Unlike task status,
// its transitions are driven by user action, never by the poller.
type GroupState string

const (
	GroupCreated   GroupState = "CREATED"
	GroupActive    GroupState = "ACTIVE"
	GroupPaused    GroupState = "PAUSED"
	GroupCompleted GroupState = "COMPLETED"
)

// ConversationEntry is one entry of a Task Group's append-only
// conversation-history.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Group is the Task Group entity from spec §3: all tasks sharing one
// task-group-id share exactly one conversation-history (never split).
type Group struct {
	ID                 string              `json:"id"`
	SessionID          string              `json:"session_id"`
	State               GroupState          `json:"state"`
	ConversationHistory []ConversationEntry `json:"conversation_history,omitempty"`
	WorkingFiles        []string            `json:"working_files,omitempty"`
	AccumulatedChanges  []string            `json:"accumulated_changes,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// NewGroup creates a Group in state CREATED, for the enqueue-task-group
// first-task variant of the control-plane contract (§4.I).
func NewGroup(id, sessionID string) *Group {
	now := time.Now().UTC()
	return &Group{
		ID:        id,
		SessionID: sessionID,
		State:     GroupCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendEntry appends a conversation entry and stamps updated-at.
func (g *Group) AppendEntry(entry ConversationEntry) {
	g.ConversationHistory = append(g.ConversationHistory, entry)
	g.UpdatedAt = time.Now().UTC()
}

// AddWorkingFile adds a path to the working-files set if not already present.
func (g *Group) AddWorkingFile(path string) {
	for _, f := range g.WorkingFiles {
		if f == path {
			return
		}
	}
	g.WorkingFiles = append(g.WorkingFiles, path)
	g.UpdatedAt = time.Now().UTC()
}

func (g *Group) ToJSON() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

func GroupFromJSON(data []byte) (*Group, error) {
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
