package raft

import "sync"

// Tracker is the per-term vote tally and per-peer match-index map that
// promotes entries from appended to committed (§4.3). It exists for the
// lifetime of a server but its match map and tally are only meaningful for
// the current term; UpdateTerm clears them.
type Tracker struct {
	mu sync.Mutex

	membershipCount func() int

	matchMap map[uint64]uint64 // peer id -> highest appended index, current term only

	electionTerm uint64
	tally        int
}

// NewTracker returns a tracker whose majority threshold is computed from
// membershipCount at the time of each call, so it tracks a dynamic
// membership view without needing to be told about changes directly.
func NewTracker(membershipCount func() int) *Tracker {
	return &Tracker{
		membershipCount: membershipCount,
		matchMap:        make(map[uint64]uint64),
	}
}

func (t *Tracker) isMajority(count int) bool {
	n := t.membershipCount()
	return count > n/2
}

// UpdateTerm clears the match map unconditionally, and resets the election
// tally only if term differs from the currently recorded election term
// (so a RequestVote round in the same term that's already being tallied
// isn't reset by, say, an unrelated AppendRequest handler re-announcing the
// same term).
func (t *Tracker) UpdateTerm(term uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matchMap = make(map[uint64]uint64)
	if term != t.electionTerm {
		t.electionTerm = term
		t.tally = 0
	}
}

// Appended records that senderID has appended through matchIndex, and
// returns the new applied (commit) index if this append moves the majority
// watermark past currentCommit, or 0 if not.
//
// Commitment is contiguous: Appended walks candidate indexes upward from
// currentCommit+1 and stops at the first one that doesn't yet have a
// majority, returning the highest one that does.
func (t *Tracker) Appended(senderID, matchIndex, currentCommit uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if matchIndex <= currentCommit {
		return 0
	}
	t.matchMap[senderID] = matchIndex

	var applied uint64
	for i := currentCommit + 1; i <= matchIndex; i++ {
		count := 0
		for _, m := range t.matchMap {
			if m >= i {
				count++
			}
		}
		if !t.isMajority(count) {
			break
		}
		applied = i
	}
	return applied
}

// ReceivedVote records a granted vote from senderID for term, returning
// true iff the tally now constitutes a strict majority. Votes for a term
// older than the one being tallied are ignored; a vote for a newer term
// resets the tally to 1 (this vote) before comparing.
func (t *Tracker) ReceivedVote(senderID, term uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if term < t.electionTerm {
		return false
	}
	if term > t.electionTerm {
		t.electionTerm = term
		t.tally = 0
	}
	t.tally++
	return t.isMajority(t.tally)
}

// MatchIndex returns the leader's current view of senderID's highest
// appended index, for diagnostics/tests.
func (t *Tracker) MatchIndex(senderID uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.matchMap[senderID]
	return m, ok
}
