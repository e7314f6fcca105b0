package session

import (
	"sync"

	"shiftline/internal/config"
)

// Kind names a wizard flow.
type Kind string

const (
	KindReport Kind = "report"
	KindPost   Kind = "post"
)

// State names a step within a wizard flow.
type State string

const (
	StateChooseTask     State = "choose_task"
	StateOtherTaskName  State = "other_task_name"
	StateSelectReviewer State = "select_reviewer"
	StateEnterCount     State = "enter_count"
	StateEnterText      State = "enter_text"
	StateAttachMedia    State = "attach_media"
)

// Session is the in-progress state of one wizard. Nothing here touches
// storage until the wizard completes.
type Session struct {
	UserID     string
	Kind       Kind
	State      State
	Task       string
	ReviewerID string
	Draft      string
	MediaRef   string
}

type entry struct {
	session Session
	seq     uint64
}

// Manager holds active wizard sessions in memory. The policy decides whether
// a user may run one wizard at a time or one per kind.
type Manager struct {
	mu      sync.Mutex
	policy  string
	seq     uint64
	entries map[string]*entry
}

func NewManager(policy string) *Manager {
	if policy == "" {
		policy = config.SessionPolicyPerUser
	}
	return &Manager{policy: policy, entries: map[string]*entry{}}
}

func key(userID string, kind Kind) string {
	return userID + "|" + string(kind)
}

// Begin starts a wizard at the given state, discarding any prior session the
// policy does not allow to coexist. Re-entering the same wizard always
// resets it.
func (m *Manager) Begin(userID string, kind Kind, state State) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == config.SessionPolicyPerUser {
		for k, e := range m.entries {
			if e.session.UserID == userID {
				delete(m.entries, k)
			}
		}
	}
	s := Session{UserID: userID, Kind: kind, State: state}
	m.seq++
	m.entries[key(userID, kind)] = &entry{session: s, seq: m.seq}
	return s
}

// Active returns the user's most recently started session, if any.
func (m *Manager) Active(userID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *entry
	for _, e := range m.entries {
		if e.session.UserID != userID {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	if best == nil {
		return Session{}, false
	}
	return best.session, true
}

// Get returns the user's session of a specific kind, if any.
func (m *Manager) Get(userID string, kind Kind) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(userID, kind)]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Save stores an updated session. A session that was never begun (or was
// ended in the meantime) is not resurrected.
func (m *Manager) Save(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(s.UserID, s.Kind)]
	if !ok {
		return
	}
	e.session = s
}

// End discards the user's session of the given kind.
func (m *Manager) End(userID string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(userID, kind))
}

// EndAll discards every session the user has. Used by /cancel.
func (m *Manager) EndAll(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.session.UserID == userID {
			delete(m.entries, k)
		}
	}
}
