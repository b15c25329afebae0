// Package poller drives the executor pipeline: a single consumer that claims
// the oldest open task on a fixed interval and routes it to its stage handler.
package poller

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"rekenwolk/internal/domain"
	"rekenwolk/internal/engine"
	"rekenwolk/internal/repo"
)

const maxBackoff = 2 * time.Minute

type Poller struct {
	Engine   engine.Engine
	Interval time.Duration
	Timeout  time.Duration

	active   atomic.Bool
	failures int
}

func New(e engine.Engine) *Poller {
	p := &Poller{
		Engine:   e,
		Interval: 4 * time.Second,
		Timeout:  5 * time.Minute,
	}
	if e.Config != nil {
		p.Interval = e.Config.PollInterval()
		p.Timeout = e.Config.TaskTimeout()
	}
	return p
}

// Run polls until the context is canceled. A bad task never stops the loop:
// handler errors mark the task failed and polling continues.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("poller: gestart, interval %s", p.Interval)
	for {
		wait := p.Interval
		if d := p.backoff(); d > 0 {
			wait = d
		}
		select {
		case <-ctx.Done():
			log.Printf("poller: gestopt")
			return
		case <-time.After(wait):
		}
		p.Tick(ctx)
	}
}

// Tick claims and processes at most one task. Reentrant calls while a task is
// in flight are dropped, matching the single-consumer contract.
func (p *Poller) Tick(ctx context.Context) {
	if !p.active.CompareAndSwap(false, true) {
		return
	}
	defer p.active.Store(false)

	t, err := p.Engine.Repo.ClaimNextOpenTask(ctx, repo.RoleExecutor)
	if errors.Is(err, repo.ErrNotFound) {
		p.failures = 0
		return
	}
	if err != nil {
		p.failures++
		log.Printf("poller: claim mislukt (%d op rij): %v", p.failures, err)
		return
	}
	p.failures = 0
	p.process(ctx, t)
}

func (p *Poller) process(ctx context.Context, t domain.Task) {
	log.Printf("poller: taak %s (%s) gestart", t.ID, t.Action)
	taskCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Engine.ProcessTask(taskCtx, t)
	if err == nil {
		log.Printf("poller: taak %s (%s) afgerond", t.ID, t.Action)
		return
	}
	if taskCtx.Err() == context.DeadlineExceeded {
		err = errors.New("timeout")
	}
	log.Printf("poller: taak %s (%s) mislukt: %v", t.ID, t.Action, err)
	if failErr := p.Engine.FailTask(ctx, t, err); failErr != nil {
		log.Printf("poller: taak %s kon niet als failed gemarkeerd worden: %v", t.ID, failErr)
	}
}

// backoff returns an extra jittered delay after consecutive claim failures, so
// a broken database is not hammered on the base interval.
func (p *Poller) backoff() time.Duration {
	if p.failures == 0 {
		return 0
	}
	d := p.Interval << uint(p.failures)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}
