package ratelimit

import (
	"context"
	"time"
)

// #region state

// DailyCount is the number of accepted dispatches on one calendar day.
type DailyCount struct {
	DayKey string `json:"dayKey"`
	Count  int    `json:"count"`
}

// State is the persisted pacing record for every agent sharing a root.
type State struct {
	LastDispatchByAgent  map[string]int64      `json:"lastDispatchByAgent"` // epoch ms
	DailyDispatchByAgent map[string]DailyCount `json:"dailyDispatchByAgent"`
}

// Empty returns the state of a root that has never dispatched.
func Empty() State {
	return State{
		LastDispatchByAgent:  map[string]int64{},
		DailyDispatchByAgent: map[string]DailyCount{},
	}
}

// LastDispatch returns the last accepted dispatch for agentID, if any.
func (s State) LastDispatch(agentID string) (time.Time, bool) {
	ms, ok := s.LastDispatchByAgent[agentID]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// CountOn returns how many dispatches agentID has on dayKey. A stored counter
// for any other day counts as zero.
func (s State) CountOn(agentID, dayKey string) int {
	d, ok := s.DailyDispatchByAgent[agentID]
	if !ok || d.DayKey != dayKey {
		return 0
	}
	return d.Count
}

// Record registers an accepted dispatch at now. The last-dispatch timestamp
// and the daily counter always move together.
func (s *State) Record(agentID string, now time.Time) {
	if s.LastDispatchByAgent == nil {
		s.LastDispatchByAgent = map[string]int64{}
	}
	if s.DailyDispatchByAgent == nil {
		s.DailyDispatchByAgent = map[string]DailyCount{}
	}
	key := DayKey(now)
	s.LastDispatchByAgent[agentID] = now.UnixMilli()
	s.DailyDispatchByAgent[agentID] = DailyCount{DayKey: key, Count: s.CountOn(agentID, key) + 1}
}

// fill replaces nil maps so a decoded document behaves like Empty().
func (s *State) fill() {
	if s.LastDispatchByAgent == nil {
		s.LastDispatchByAgent = map[string]int64{}
	}
	if s.DailyDispatchByAgent == nil {
		s.DailyDispatchByAgent = map[string]DailyCount{}
	}
}

// #endregion state

// #region day-key

// DayKey formats the UTC calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// #endregion day-key

// #region store

// Store persists State for one root.
//
// Load never fails: a missing or unreadable document yields Empty().
// Update performs a locked read-modify-write; fn sees the freshly loaded
// state and the result is saved only if fn returns nil.
type Store interface {
	Load(ctx context.Context) State
	Save(ctx context.Context, st State) error
	Update(ctx context.Context, fn func(*State) error) error
}

// #endregion store
