package raft

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server is the follower/candidate/leader role engine (§4.4): the RPC
// handlers, the timers that drive elections and heartbeats, and command
// routing all live here, serialized under mu. Every public entry point —
// Accept, Submit, GetState, Shutdown — is safe to call from any goroutine.
type Server struct {
	mu sync.Mutex

	id         uint64
	log        Log
	durable    *DurableState
	tracker    *Tracker
	membership Membership
	metrics    *Metrics
	logger     *zap.SugaredLogger

	heartbeatPeriod time.Duration
	termTimeout     time.Duration

	role        Role
	currentTerm uint64
	votedFor    int64
	leaderKnown bool
	leaderID    uint64

	// epoch invalidates any timer callback scheduled before the most
	// recent scheduleX call fired; cancellation is best-effort (§5), so
	// every fired callback re-checks epoch under the lock before acting.
	epoch uint64

	localListeners map[uint64]Listener // log index -> listener, leader-appended entries
	remoteWaiters  map[string]Listener // request id -> listener, forwarded commands

	proxy *Proxy

	active bool
}

// NewServer builds a role engine around an already-open log and durable
// state. Call Start to begin timers and, for a single-node cluster, elect
// immediately.
func NewServer(id uint64, log Log, durable *DurableState, membership Membership, cfg Config, metrics *Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		id:              id,
		log:             log,
		durable:         durable,
		membership:      membership,
		metrics:         metrics,
		logger:          logger,
		heartbeatPeriod: cfg.Heartbeat,
		termTimeout:     cfg.TermTimeout,
		role:            Follower,
		currentTerm:     durable.CurrentTerm(),
		votedFor:        durable.VotedFor(),
		localListeners:  make(map[uint64]Listener),
		remoteWaiters:   make(map[string]Listener),
	}
	s.tracker = NewTracker(membership.Count)
	s.proxy = NewProxy(cfg.WorkerPoolSize, s.handleMessage, s.doSubmit)
	return s
}

// Start activates the server. A single-node membership elects itself
// leader immediately (§4.4); otherwise the server starts as a follower
// with an unknown leader and an election timer running.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	if s.membership.Count() == 1 {
		s.becomeCandidateLocked()
		return
	}
	s.leaderKnown = false
	s.scheduleElectionTimerLocked()
}

// Shutdown deactivates the server, stops its worker pools, and rejects any
// further work. In-flight handler calls complete; new ones are dropped.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.active = false
	s.epoch++
	s.mu.Unlock()
	s.proxy.Shutdown()
}

// GetState reports the current term and whether this server believes
// itself to be leader.
func (s *Server) GetState() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm, s.role == Leader
}

// ID returns this server's id.
func (s *Server) ID() uint64 { return s.id }

// Disconnect simulates a network partition: inbound messages and commands
// are dequeued and silently dropped until Reconnect.
func (s *Server) Disconnect() { s.proxy.Disconnect() }

// Reconnect ends a simulated partition.
func (s *Server) Reconnect() { s.proxy.Reconnect() }

// fatal halts the server in response to a durability failure or a
// log-safety violation (§7): implementations are told to treat these as
// fatal rather than the source's log-and-continue. Caller must hold mu.
func (s *Server) fatal(err error) {
	s.logger.Errorw("fatal consensus error, halting server", "server", s.id, "error", err)
	s.active = false
	s.epoch++
}

// ---- timers ----

func (s *Server) scheduleElectionTimerLocked() {
	s.epoch++
	epoch := s.epoch
	time.AfterFunc(s.termTimeout, func() { s.onElectionTimeout(epoch) })
}

func (s *Server) scheduleCampaignTimerLocked() {
	s.epoch++
	epoch := s.epoch
	backoff := 100*time.Millisecond + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
	time.AfterFunc(backoff, func() { s.onCampaignTimeout(epoch) })
}

func (s *Server) scheduleHeartbeatLocked() {
	s.epoch++
	epoch := s.epoch
	time.AfterFunc(s.heartbeatPeriod, func() { s.onHeartbeatTick(epoch) })
}

func (s *Server) onElectionTimeout(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || epoch != s.epoch {
		return
	}
	s.becomeCandidateLocked()
}

func (s *Server) onCampaignTimeout(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || epoch != s.epoch || s.role != Candidate {
		return
	}
	s.becomeCandidateLocked()
}

func (s *Server) onHeartbeatTick(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || epoch != s.epoch {
		return
	}
	// Cancellation is best-effort: re-check role before sending, since a
	// stale heartbeat callback racing a term change must not act as
	// leader (§5).
	if s.role != Leader {
		return
	}
	s.broadcastHeartbeatLocked()
	s.scheduleHeartbeatLocked()
}

// ---- role transitions ----

// becomeFollowerLocked converts to follower, bumping the persisted term
// first if newTerm is ahead of the current one. leaderID/hasLeader set
// what, if anything, is now known about the leader.
func (s *Server) becomeFollowerLocked(newTerm uint64, hasLeader bool, leaderID uint64) {
	if newTerm > s.currentTerm {
		if err := s.durable.UpdateCurrentTerm(newTerm); err != nil {
			s.fatal(err)
			return
		}
		s.currentTerm = newTerm
		s.votedFor = NoVote
		s.tracker.UpdateTerm(newTerm)
	}
	s.role = Follower
	s.leaderKnown = hasLeader
	s.leaderID = leaderID
	s.metrics.observeRole(s.role, s.currentTerm)
	s.scheduleElectionTimerLocked()
}

// becomeCandidateLocked increments the term, votes for self, and either
// wins outright (single-node cluster: the self-vote alone is a majority)
// or broadcasts VoteRequest and starts a new campaign timer.
func (s *Server) becomeCandidateLocked() {
	newTerm := s.currentTerm + 1
	if err := s.durable.UpdateCurrentTerm(newTerm); err != nil {
		s.fatal(err)
		return
	}
	s.currentTerm = newTerm
	s.votedFor = int64(s.id)
	if err := s.durable.UpdateVotedFor(int64(s.id)); err != nil {
		s.fatal(err)
		return
	}
	s.role = Candidate
	s.leaderKnown = false
	s.tracker.UpdateTerm(newTerm)
	s.metrics.observeRole(s.role, s.currentTerm)

	if s.tracker.ReceivedVote(s.id, newTerm) {
		s.becomeLeaderLocked()
		return
	}
	s.broadcastVoteRequestLocked()
	s.scheduleCampaignTimerLocked()
}

// becomeLeaderLocked converts to leader and starts the heartbeat cadence.
// A leader never truncates its own log (§8); nothing here touches the log
// beyond reading its tail for the first heartbeat.
func (s *Server) becomeLeaderLocked() {
	s.role = Leader
	s.leaderKnown = true
	s.leaderID = s.id
	s.metrics.observeRole(s.role, s.currentTerm)
	s.broadcastHeartbeatLocked()
	s.scheduleHeartbeatLocked()
}

// ---- inbound message dispatch ----

// Accept is the input seam: a transport hands a decoded Message here. It
// returns immediately; the message is processed on a proxy worker.
func (s *Server) Accept(msg *Message) {
	s.proxy.Invoke(msg)
}

// Submit is the local command-submission API (§4.4): listener may be nil
// for a fire-and-forget write. Returns immediately; processing happens on
// a proxy worker.
func (s *Server) Submit(command *Command, listener Listener) {
	s.proxy.Send(command, listener)
}

func (s *Server) handleMessage(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}

	// "On any incoming message": a higher term always wins and converts
	// this server to a follower of whoever sent it, before any
	// kind-specific handling runs.
	if msg.Term > s.currentTerm {
		s.becomeFollowerLocked(msg.Term, true, msg.SenderID)
	}

	switch msg.Kind {
	case KindVoteRequest:
		s.handleVoteRequestLocked(msg)
	case KindVoteResponse:
		s.handleVoteResponseLocked(msg)
	case KindAppendRequest:
		s.handleAppendRequestLocked(msg)
	case KindAppendResponse:
		s.handleAppendResponseLocked(msg)
	case KindCommandRequest:
		s.handleCommandRequestLocked(msg)
	case KindCommandResponse:
		s.handleCommandResponseLocked(msg)
	}
}

// isUpToDate applies the Raft paper's lexicographic (term, index)
// comparison. The source this core is drawn from instead compared
// lastLogTerm and lastLogIndex independently; that divergence is
// deliberate here — see DESIGN.md.
func (s *Server) isUpToDate(candidateLastTerm, candidateLastIndex uint64) bool {
	myTerm, myIndex := s.log.LastTerm(), s.log.LastIndex()
	if candidateLastTerm != myTerm {
		return candidateLastTerm > myTerm
	}
	return candidateLastIndex >= myIndex
}

func (s *Server) handleVoteRequestLocked(msg *Message) {
	req := msg.VoteRequest
	granted := false

	switch {
	case msg.Term < s.currentTerm:
	case s.votedFor != NoVote && s.votedFor != int64(msg.SenderID):
	case !s.isUpToDate(req.LastLogTerm, req.LastLogIndex):
	default:
		s.role = Follower
		s.leaderKnown = false
		s.votedFor = int64(msg.SenderID)
		if err := s.durable.UpdateVotedFor(int64(msg.SenderID)); err != nil {
			s.fatal(err)
			return
		}
		s.scheduleElectionTimerLocked()
		granted = true
	}

	s.metrics.countVote(granted)
	s.sendMessageLocked(msg.SenderID, &Message{
		SenderID:     s.id,
		Term:         s.currentTerm,
		Kind:         KindVoteResponse,
		VoteResponse: &VoteResponse{Granted: granted},
	})
}

func (s *Server) handleVoteResponseLocked(msg *Message) {
	resp := msg.VoteResponse
	if !resp.Granted || s.role != Candidate || msg.Term != s.currentTerm {
		return
	}
	if s.tracker.ReceivedVote(msg.SenderID, msg.Term) {
		s.becomeLeaderLocked()
	}
}

func (s *Server) handleAppendRequestLocked(msg *Message) {
	req := msg.AppendRequest

	if msg.Term < s.currentTerm {
		s.metrics.countAppend(false)
		s.sendAppendResponseLocked(msg.SenderID, false, 0, false)
		return
	}

	if !s.log.HasEntry(req.PrevLogIndex, req.PrevLogTerm) {
		lastIndex := s.log.LastIndex()
		var hint uint64
		hasHint := true
		switch {
		case lastIndex < req.PrevLogIndex:
			hint = lastIndex
		case s.log.CommitIndex() < req.PrevLogIndex:
			hint = s.log.CommitIndex()
		default:
			s.logger.Errorw("append request conflicts at or below commit index; cluster safety violation",
				"server", s.id, "prevLogIndex", req.PrevLogIndex, "commitIndex", s.log.CommitIndex())
			hasHint = false
		}
		s.role = Follower
		s.leaderKnown = true
		s.leaderID = msg.SenderID
		s.scheduleElectionTimerLocked()
		s.metrics.countAppend(false)
		s.sendAppendResponseLocked(msg.SenderID, false, hint, hasHint)
		return
	}

	s.role = Follower
	s.leaderKnown = true
	s.leaderID = msg.SenderID
	s.scheduleElectionTimerLocked()

	if err := s.log.ValidateEntry(req.PrevLogIndex+1, msg.Term); err != nil {
		s.fatal(err)
		return
	}

	nextIndex := req.PrevLogIndex + 1
	for _, cmd := range req.Entries {
		if s.log.HasEntry(nextIndex, msg.Term) {
			nextIndex++
			continue
		}
		idx, err := s.log.Append(cmd, msg.Term)
		if err != nil {
			s.fatal(err)
			return
		}
		nextIndex = idx + 1
	}

	newLast := s.log.LastIndex()
	applyTo := req.LeaderCommit
	if applyTo > newLast {
		applyTo = newLast
	}
	if applyTo > s.log.CommitIndex() {
		if err := s.applyAndFireLocked(applyTo); err != nil {
			s.fatal(err)
			return
		}
	}

	s.metrics.countAppend(true)
	s.sendAppendResponseLocked(msg.SenderID, true, newLast, false)
}

func (s *Server) handleAppendResponseLocked(msg *Message) {
	if s.role != Leader || msg.Term < s.currentTerm {
		return
	}
	resp := msg.AppendResponse
	if resp.Ok {
		applied := s.tracker.Appended(msg.SenderID, resp.Index, s.log.CommitIndex())
		if applied > 0 {
			if err := s.applyAndFireLocked(applied); err != nil {
				s.fatal(err)
				return
			}
			s.broadcastHeartbeatLocked()
		}
		return
	}
	if !resp.HasHint {
		return
	}
	term, err := s.log.TermAt(resp.Index)
	if err != nil {
		term = 0
	}
	entries := s.log.EntriesFrom(resp.Index + 1)
	s.sendMessageLocked(msg.SenderID, &Message{
		SenderID: s.id,
		Term:     s.currentTerm,
		Kind:     KindAppendRequest,
		AppendRequest: &AppendRequest{
			PrevLogIndex: resp.Index,
			PrevLogTerm:  term,
			Entries:      entries,
			LeaderCommit: s.log.CommitIndex(),
		},
	})
}

func (s *Server) handleCommandRequestLocked(msg *Message) {
	req := msg.CommandRequest
	if s.role != Leader {
		if req.HasReqID {
			s.sendCommandResponseLocked(msg.SenderID, req.RequestID, Failed)
		}
		return
	}

	prevIndex, prevTerm := s.log.LastIndex(), s.log.LastTerm()
	idx, err := s.log.Append(req.Command, s.currentTerm)
	if err != nil {
		if errors.Is(err, ErrDurabilityFailure) {
			s.fatal(err)
		}
		if req.HasReqID {
			s.sendCommandResponseLocked(msg.SenderID, req.RequestID, Failed)
		}
		return
	}
	s.broadcastAppendEntryLocked(prevIndex, prevTerm, req.Command)

	if applied := s.tracker.Appended(s.id, idx, s.log.CommitIndex()); applied > 0 {
		if err := s.applyAndFireLocked(applied); err != nil {
			s.fatal(err)
			return
		}
	}

	if req.HasReqID {
		s.sendCommandResponseLocked(msg.SenderID, req.RequestID, int64(idx))
	}
}

func (s *Server) handleCommandResponseLocked(msg *Message) {
	resp := msg.CommandResponse
	listener, ok := s.remoteWaiters[resp.RequestID]
	if !ok {
		return
	}
	delete(s.remoteWaiters, resp.RequestID)

	if resp.EntryIndex == Failed {
		listener.CommandFailed(ErrNotLeader)
		return
	}
	if uint64(resp.EntryIndex) <= s.log.CommitIndex() {
		listener.CommandApplied()
		return
	}
	s.localListeners[uint64(resp.EntryIndex)] = listener
}

// doSubmit runs on a proxy worker in response to Submit.
func (s *Server) doSubmit(command *Command, listener Listener) {
	s.mu.Lock()

	if !s.active {
		s.mu.Unlock()
		if listener != nil {
			listener.CommandFailed(ErrShutdown)
		}
		return
	}
	if !s.leaderKnown {
		s.mu.Unlock()
		if listener != nil {
			listener.CommandFailed(ErrUnknownLeader)
		}
		return
	}

	if s.leaderID == s.id {
		prevIndex, prevTerm := s.log.LastIndex(), s.log.LastTerm()
		idx, err := s.log.Append(command, s.currentTerm)
		if err != nil {
			if errors.Is(err, ErrDurabilityFailure) {
				s.fatal(err)
			}
			s.mu.Unlock()
			if listener != nil {
				listener.CommandFailed(err)
			}
			return
		}
		if listener != nil {
			s.localListeners[idx] = listener
		}
		s.broadcastAppendEntryLocked(prevIndex, prevTerm, command)
		if applied := s.tracker.Appended(s.id, idx, s.log.CommitIndex()); applied > 0 {
			if err := s.applyAndFireLocked(applied); err != nil {
				s.fatal(err)
			}
		}
		s.mu.Unlock()
		return
	}

	requestID := uuid.NewString()
	if listener != nil {
		s.remoteWaiters[requestID] = listener
	}
	leaderID, term := s.leaderID, s.currentTerm
	s.mu.Unlock()

	s.membership.Find(leaderID).Invoke(&Message{
		SenderID: s.id,
		Term:     term,
		Kind:     KindCommandRequest,
		CommandRequest: &CommandRequest{
			Command:   command,
			RequestID: requestID,
			HasReqID:  listener != nil,
		},
	})
}

// ---- helpers shared by the handlers above; callers hold mu ----

// applyAndFireLocked advances the commit pointer and fires every local
// listener whose index has now committed, in index order.
func (s *Server) applyAndFireLocked(upTo uint64) error {
	if err := s.log.Applied(upTo); err != nil {
		return err
	}
	committed := s.log.CommitIndex()
	s.durable.UpdateCommitIndex(committed)
	s.metrics.observeCommit(committed, s.log.LastIndex())
	ready := make([]uint64, 0, len(s.localListeners))
	for index := range s.localListeners {
		if index <= committed {
			ready = append(ready, index)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	for _, index := range ready {
		s.localListeners[index].CommandApplied()
		delete(s.localListeners, index)
	}
	return nil
}

func (s *Server) sendMessageLocked(to uint64, msg *Message) {
	s.membership.Find(to).Invoke(msg)
}

func (s *Server) sendAppendResponseLocked(to uint64, ok bool, index uint64, hasHint bool) {
	s.sendMessageLocked(to, &Message{
		SenderID:       s.id,
		Term:           s.currentTerm,
		Kind:           KindAppendResponse,
		AppendResponse: &AppendResponse{Ok: ok, Index: index, HasHint: hasHint},
	})
}

func (s *Server) sendCommandResponseLocked(to uint64, requestID string, entryIndex int64) {
	s.sendMessageLocked(to, &Message{
		SenderID:        s.id,
		Term:            s.currentTerm,
		Kind:            KindCommandResponse,
		CommandResponse: &CommandResponse{RequestID: requestID, EntryIndex: entryIndex},
	})
}

func (s *Server) broadcastVoteRequestLocked() {
	s.membership.BroadcastExceptSender(s.id, &Message{
		SenderID: s.id,
		Term:     s.currentTerm,
		Kind:     KindVoteRequest,
		VoteRequest: &VoteRequest{
			LastLogIndex: s.log.LastIndex(),
			LastLogTerm:  s.log.LastTerm(),
		},
	})
}

// broadcastHeartbeatLocked sends an AppendRequest carrying the leader's
// current tail position to every peer. There is no per-peer next-index
// cursor in this design (§3's MatchMap is the only leader-side per-peer
// state): a follower that's behind replies ok=false with a resync hint,
// which respondAppend (handleAppendResponseLocked) turns into a targeted
// catch-up request.
func (s *Server) broadcastHeartbeatLocked() {
	s.membership.BroadcastExceptSender(s.id, &Message{
		SenderID: s.id,
		Term:     s.currentTerm,
		Kind:     KindAppendRequest,
		AppendRequest: &AppendRequest{
			PrevLogIndex: s.log.LastIndex(),
			PrevLogTerm:  s.log.LastTerm(),
			LeaderCommit: s.log.CommitIndex(),
		},
	})
}

func (s *Server) broadcastAppendEntryLocked(prevIndex, prevTerm uint64, cmd *Command) {
	s.membership.BroadcastExceptSender(s.id, &Message{
		SenderID: s.id,
		Term:     s.currentTerm,
		Kind:     KindAppendRequest,
		AppendRequest: &AppendRequest{
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      []*Command{cmd},
			LeaderCommit: s.log.CommitIndex(),
		},
	})
}
