package viewer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Pool runs one Viewer per subscribed channel and keeps the set in line with
// the configured channel list.
type Pool struct {
	opts Options

	mu      sync.Mutex
	running map[string]*member
	wg      sync.WaitGroup
}

type member struct {
	v      *Viewer
	cancel context.CancelFunc
}

// NewPool creates an empty Pool. Sync starts its viewers.
func NewPool(opts Options) *Pool {
	return &Pool{opts: opts, running: make(map[string]*member)}
}

// Sync starts viewers for channels in ids that are not running and stops
// those no longer listed. Viewers run until ctx is cancelled or they are
// dropped by a later Sync.
func (p *Pool) Sync(ctx context.Context, ids []string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, m := range p.running {
		if _, ok := want[id]; !ok {
			m.cancel()
			delete(p.running, id)
			slog.Info("viewer: unsubscribed", "channel", id)
		}
	}
	for id := range want {
		if _, ok := p.running[id]; ok {
			continue
		}
		vctx, cancel := context.WithCancel(ctx)
		v := New(id, p.opts)
		p.running[id] = &member{v: v, cancel: cancel}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			v.Run(vctx)
		}()
		slog.Info("viewer: subscribed", "channel", id)
	}
}

// Viewer returns the running viewer for channel id.
func (p *Pool) Viewer(id string) (*Viewer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.running[id]
	if !ok {
		return nil, false
	}
	return m.v, true
}

// Channels returns the subscribed channel ids in sorted order.
func (p *Pool) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.running))
	for id := range p.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until every viewer started by the pool has stopped.
func (p *Pool) Wait() {
	p.wg.Wait()
}
