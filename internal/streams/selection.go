package streams

import "sync"

// ChainSelection is the UI-owned choice of which option-chain slice to poll.
// UI collaborators write it; the option-chain stream reads it at the top of
// every cycle, so a changed expiry takes effect on the next tick without
// restarting anything.
type ChainSelection struct {
	mu      sync.RWMutex
	index   string
	expiry  string
	strikes int
	segment string
}

func NewChainSelection(index, segment string, strikes int) *ChainSelection {
	return &ChainSelection{index: index, segment: segment, strikes: strikes}
}

func (s *ChainSelection) Set(index, expiry, segment string, strikes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.expiry = expiry
	s.segment = segment
	s.strikes = strikes
}

func (s *ChainSelection) SetExpiry(expiry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry = expiry
}

func (s *ChainSelection) get() (index, expiry, segment string, strikes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, s.expiry, s.segment, s.strikes
}
