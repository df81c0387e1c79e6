package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PresenceSink receives every online/offline transition, e.g. to mirror
// presence into a shared cache.
type PresenceSink interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
}

// Presence announces online/offline transitions to the user's followers that
// are currently connected. Notifications are fire-and-forget: they run in the
// background and failures are only logged.
//
// Transitions of one user are delivered in the order they were announced, and
// a transition that no longer matches the registry when its turn comes is
// dropped, so the last status followers and sinks see is the current one.
type Presence struct {
	registry *Registry
	follows  FollowReader
	sinks    []PresenceSink
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	queues map[int64][]transition
	wg     sync.WaitGroup
}

type transition struct {
	status string
	at     time.Time
}

func NewPresence(registry *Registry, follows FollowReader, log *zap.Logger, sinks ...PresenceSink) *Presence {
	return &Presence{
		registry: registry,
		follows:  follows,
		sinks:    sinks,
		log:      log,
		now:      time.Now,
		queues:   make(map[int64][]transition),
	}
}

func (p *Presence) Online(userID int64) {
	p.announce(userID, StatusOnline)
}

func (p *Presence) Offline(userID int64) {
	p.announce(userID, StatusOffline)
}

func (p *Presence) announce(userID int64, status string) {
	t := transition{status: status, at: p.now().UTC()}

	p.mu.Lock()
	_, running := p.queues[userID]
	p.queues[userID] = append(p.queues[userID], t)
	if !running {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if !running {
		go p.drain(userID)
	}
}

// drain delivers the queued transitions of userID one at a time and exits
// once the queue is empty.
func (p *Presence) drain(userID int64) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		q := p.queues[userID]
		if len(q) == 0 {
			delete(p.queues, userID)
			p.mu.Unlock()
			return
		}
		next := q[0]
		p.queues[userID] = q[1:]
		p.mu.Unlock()

		if p.registry.IsOnline(userID) != (next.status == StatusOnline) {
			p.log.Debug("stale presence transition dropped", zap.Int64("user_id", userID), zap.String("status", next.status))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p.notify(ctx, userID, next.status, next.at)
		cancel()
	}
}

func (p *Presence) notify(ctx context.Context, userID int64, status string, at time.Time) {
	for _, sink := range p.sinks {
		var err error
		if status == StatusOnline {
			err = sink.SetOnline(ctx, userID)
		} else {
			err = sink.SetOffline(ctx, userID)
		}
		if err != nil {
			p.log.Warn("presence sink update failed", zap.Int64("user_id", userID), zap.String("status", status), zap.Error(err))
		}
	}

	followers, err := p.follows.ListFollowers(ctx, userID)
	if err != nil {
		p.log.Warn("presence follower lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	ev := UserStatusEvent(userID, status, at)
	notified := 0
	for _, follower := range followers {
		if p.registry.SendToUser(follower, ev) > 0 {
			notified++
		}
	}
	p.log.Debug("presence announced", zap.Int64("user_id", userID), zap.String("status", status), zap.Int("followers_notified", notified))
}

// Wait blocks until every announcement in flight has finished.
func (p *Presence) Wait() {
	p.wg.Wait()
}
