package usecase

import (
	"context"
	"log"
	"sync"
)

// Syncer runs a single sync pass for a mailbox.
type Syncer interface {
	Sync(ctx context.Context, mailbox string) (*SyncResult, error)
}

type mailboxRun struct {
	pass    sync.Mutex // held for the duration of every pass
	running bool       // a background worker owns this mailbox
	pending bool       // a trigger arrived while the worker was busy
}

// Coordinator serialises sync passes per mailbox and coalesces bursts of triggers.
// Different mailboxes sync in parallel.
type Coordinator struct {
	syncer Syncer
	ctx    context.Context

	mu   sync.Mutex
	runs map[string]*mailboxRun
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator whose background passes run under ctx.
func NewCoordinator(ctx context.Context, syncer Syncer) *Coordinator {
	return &Coordinator{
		syncer: syncer,
		ctx:    ctx,
		runs:   make(map[string]*mailboxRun),
	}
}

func (c *Coordinator) run(mailbox string) *mailboxRun {
	r, ok := c.runs[mailbox]
	if !ok {
		r = &mailboxRun{}
		c.runs[mailbox] = r
	}
	return r
}

// Trigger requests a pass and returns immediately. A trigger that arrives while a
// pass is in flight schedules exactly one follow-up pass.
func (c *Coordinator) Trigger(mailbox string) {
	c.mu.Lock()
	r := c.run(mailbox)
	if r.running {
		r.pending = true
		c.mu.Unlock()
		return
	}
	r.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.worker(mailbox, r)
}

func (c *Coordinator) worker(mailbox string, r *mailboxRun) {
	defer c.wg.Done()
	for {
		r.pass.Lock()
		if _, err := c.syncer.Sync(c.ctx, mailbox); err != nil {
			log.Printf("[Coordinator] Sync pass for %s failed: %v", mailbox, err)
		}
		r.pass.Unlock()

		c.mu.Lock()
		if r.pending && c.ctx.Err() == nil {
			r.pending = false
			c.mu.Unlock()
			continue
		}
		r.pending = false
		r.running = false
		c.mu.Unlock()
		return
	}
}

// SyncNow runs a pass synchronously, waiting for any in-flight pass for the mailbox first.
func (c *Coordinator) SyncNow(ctx context.Context, mailbox string) (*SyncResult, error) {
	c.mu.Lock()
	r := c.run(mailbox)
	c.mu.Unlock()

	r.pass.Lock()
	defer r.pass.Unlock()
	return c.syncer.Sync(ctx, mailbox)
}

// Wait blocks until all background passes have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
