package orchestration

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TranscriptRole string

const (
	TranscriptRoleUser  TranscriptRole = "user"
	TranscriptRoleModel TranscriptRole = "model"
)

// TranscriptTurn is a single user or model turn.
type TranscriptTurn struct {
	ID          string
	Role        TranscriptRole
	Text        string
	StartedAt   time.Time
	Completed   bool
	Interrupted bool
}

// Transcript is a point-in-time view of a session's conversation.
type Transcript struct {
	Turns      []TranscriptTurn
	ActiveTurn *TranscriptTurn
}

// String renders the transcript as "role: text" lines.
func (t Transcript) String() string {
	var b strings.Builder
	write := func(turn TranscriptTurn) {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	for _, turn := range t.Turns {
		write(turn)
	}
	if t.ActiveTurn != nil {
		write(*t.ActiveTurn)
	}
	return b.String()
}

type transcript struct {
	mu sync.RWMutex

	turns     []TranscriptTurn
	modelTurn *TranscriptTurn
	text      strings.Builder
}

func (t *transcript) Snapshot() Transcript {
	t.mu.RLock()
	defer t.mu.RUnlock()

	turns := make([]TranscriptTurn, len(t.turns))
	copy(turns, t.turns)

	var active *TranscriptTurn
	if t.modelTurn != nil {
		snapshot := *t.modelTurn
		snapshot.Text = t.text.String()
		active = &snapshot
	}

	return Transcript{Turns: turns, ActiveTurn: active}
}

func (t *transcript) addUserTurn(text string) TranscriptTurn {
	t.mu.Lock()
	defer t.mu.Unlock()

	turn := TranscriptTurn{
		ID:        uuid.NewString(),
		Role:      TranscriptRoleUser,
		Text:      text,
		StartedAt: time.Now(),
		Completed: true,
	}
	t.turns = append(t.turns, turn)
	return turn
}

func (t *transcript) appendModelText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.modelTurn == nil {
		t.modelTurn = &TranscriptTurn{
			ID:        uuid.NewString(),
			Role:      TranscriptRoleModel,
			StartedAt: time.Now(),
		}
		t.text.Reset()
	}
	t.text.WriteString(text)
}

// completeModelTurn finalizes the active model turn. ok is false if the model
// sent no text for it.
func (t *transcript) completeModelTurn() (turn TranscriptTurn, ok bool) {
	return t.finaliseModelTurn(false)
}

func (t *transcript) interruptModelTurn() (turn TranscriptTurn, ok bool) {
	return t.finaliseModelTurn(true)
}

func (t *transcript) finaliseModelTurn(interrupted bool) (TranscriptTurn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.modelTurn == nil {
		return TranscriptTurn{}, false
	}

	turn := *t.modelTurn
	turn.Text = t.text.String()
	turn.Completed = true
	turn.Interrupted = interrupted
	t.turns = append(t.turns, turn)
	t.modelTurn = nil
	t.text.Reset()
	return turn, true
}
