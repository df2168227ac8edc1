package raft

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// proxyQueueSize bounds each worker pool's inbox so invoke/send never block
// the caller under ordinary load; a pool that falls behind sheds load by
// blocking only the producer goroutine feeding it, never the RPC layer.
const proxyQueueSize = 4096

// Proxy is the transport seam (§4.6): it hands each inbound message or
// client command off to a bounded worker pool so the caller — the actual
// network listener — never blocks on core processing. disconnect/reconnect
// let tests simulate a network partition by silently dropping inbound
// traffic.
type Proxy struct {
	handleMessage func(*Message)
	handleCommand func(*Command, Listener)

	messages chan *Message
	commands chan proxyCommand

	connected atomic.Bool

	wg   sync.WaitGroup
	stop chan struct{}
}

type proxyCommand struct {
	command  *Command
	listener Listener
}

// NewProxy builds a Proxy with workerCount workers per pool (message pool
// and command pool each get their own). workerCount <= 0 defaults to
// runtime.GOMAXPROCS(0), matching §12's sizing.
func NewProxy(workerCount int, handleMessage func(*Message), handleCommand func(*Command, Listener)) *Proxy {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	p := &Proxy{
		handleMessage: handleMessage,
		handleCommand: handleCommand,
		messages:      make(chan *Message, proxyQueueSize),
		commands:      make(chan proxyCommand, proxyQueueSize),
		stop:          make(chan struct{}),
	}
	p.connected.Store(true)

	for i := 0; i < workerCount; i++ {
		p.wg.Add(2)
		go p.runMessages()
		go p.runCommands()
	}
	return p
}

func (p *Proxy) runMessages() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case msg := <-p.messages:
			if p.connected.Load() {
				p.handleMessage(msg)
			}
		}
	}
}

func (p *Proxy) runCommands() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case cmd := <-p.commands:
			if p.connected.Load() {
				p.handleCommand(cmd.command, cmd.listener)
			}
		}
	}
}

// Invoke enqueues msg for asynchronous handling. Dropped silently if the
// proxy is disconnected or shut down.
func (p *Proxy) Invoke(msg *Message) {
	select {
	case p.messages <- msg:
	case <-p.stop:
	}
}

// Send enqueues a client command for asynchronous handling. listener may be
// nil for a fire-and-forget submission.
func (p *Proxy) Send(command *Command, listener Listener) {
	select {
	case p.commands <- proxyCommand{command: command, listener: listener}:
	case <-p.stop:
	}
}

// Disconnect causes subsequently-dequeued traffic to be silently dropped —
// simulates a network partition.
func (p *Proxy) Disconnect() {
	p.connected.Store(false)
}

// Reconnect resumes normal processing of dequeued traffic.
func (p *Proxy) Reconnect() {
	p.connected.Store(true)
}

// Connected reports whether the proxy is currently accepting traffic.
func (p *Proxy) Connected() bool {
	return p.connected.Load()
}

// Shutdown stops every worker and waits for in-flight handler calls to
// finish. New Invoke/Send calls after Shutdown are dropped.
func (p *Proxy) Shutdown() {
	close(p.stop)
	p.wg.Wait()
}
