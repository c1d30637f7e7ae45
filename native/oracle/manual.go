package oracle

import (
	"math/big"
	"sort"
	"sync"

	"collarfi/native/common"
)

// ManualFeed is an in-memory feed whose rounds are pushed by the operator or
// tests.
type ManualFeed struct {
	mu     sync.RWMutex
	rounds []Round
}

// NewManualFeed creates an empty feed.
func NewManualFeed() *ManualFeed { return &ManualFeed{} }

// Set records a round. Rounds may arrive out of order.
func (f *ManualFeed) Set(price *big.Int, updatedAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round := Round{Price: common.Clone(price), UpdatedAt: updatedAt}
	idx := sort.Search(len(f.rounds), func(i int) bool { return f.rounds[i].UpdatedAt > updatedAt })
	if idx > 0 && f.rounds[idx-1].UpdatedAt == updatedAt {
		f.rounds[idx-1] = round
		return
	}
	f.rounds = append(f.rounds, Round{})
	copy(f.rounds[idx+1:], f.rounds[idx:])
	f.rounds[idx] = round
}

// Latest implements Feed.
func (f *ManualFeed) Latest() (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rounds) == 0 {
		return Round{}, ErrNoRound
	}
	last := f.rounds[len(f.rounds)-1]
	return Round{Price: common.Clone(last.Price), UpdatedAt: last.UpdatedAt}, nil
}

// At implements Feed.
func (f *ManualFeed) At(timestamp uint64) (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx := sort.Search(len(f.rounds), func(i int) bool { return f.rounds[i].UpdatedAt > timestamp })
	if idx == 0 {
		return Round{}, ErrNoRound
	}
	round := f.rounds[idx-1]
	return Round{Price: common.Clone(round.Price), UpdatedAt: round.UpdatedAt}, nil
}

// ManualSequencer is a settable SequencerFeed.
type ManualSequencer struct {
	mu    sync.RWMutex
	up    bool
	since uint64
}

// NewManualSequencer returns a sequencer that has been up since since.
func NewManualSequencer(since uint64) *ManualSequencer {
	return &ManualSequencer{up: true, since: since}
}

// SetStatus records a status change at the given timestamp.
func (s *ManualSequencer) SetStatus(up bool, since uint64) {
	s.mu.Lock()
	s.up, s.since = up, since
	s.mu.Unlock()
}

// Status implements SequencerFeed.
func (s *ManualSequencer) Status() (bool, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.up, s.since, nil
}
