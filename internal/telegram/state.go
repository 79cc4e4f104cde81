package telegram

import (
	"maps"
	"sync"
)

// Conversation states
const (
	StateWaitQuestion = "wait_question"
	StateWaitAmount   = "wait_amount"
	StateAdminTopUp   = "admin_top_up"
	StateAdminBalance = "admin_balance"
)

// dataKind holds the spread chosen before the question is asked
const dataKind = "kind"

// UserState is where a user is in a multi-step dialog
type UserState struct {
	State string
	Data  map[string]string
}

// StateManager keeps dialog state per user in memory. A restart drops every
// dialog back to the main menu.
type StateManager struct {
	mu     sync.RWMutex
	states map[int64]UserState
}

func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]UserState),
	}
}

// Set replaces the user's state; data is copied
func (sm *StateManager) Set(userID int64, state string, data map[string]string) {
	st := UserState{State: state, Data: maps.Clone(data)}
	if st.Data == nil {
		st.Data = make(map[string]string)
	}

	sm.mu.Lock()
	sm.states[userID] = st
	sm.mu.Unlock()
}

// Get returns a copy of the user's state, or nil when no dialog is open
func (sm *StateManager) Get(userID int64) *UserState {
	sm.mu.RLock()
	st, ok := sm.states[userID]
	sm.mu.RUnlock()

	if !ok {
		return nil
	}
	st.Data = maps.Clone(st.Data)
	return &st
}

func (sm *StateManager) Clear(userID int64) {
	sm.mu.Lock()
	delete(sm.states, userID)
	sm.mu.Unlock()
}
