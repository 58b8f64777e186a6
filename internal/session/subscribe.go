package session

import "sync"

// Subscription delivers state to one observer. Snapshots keeps only the
// latest unread snapshot; Notices drops new notices while full.
type Subscription struct {
	Snapshots <-chan Snapshot
	Notices   <-chan Notice

	o  *Orchestrator
	id int
}

// Close stops delivery and closes both channels.
func (s *Subscription) Close() {
	s.o.subMu.Lock()
	sub, ok := s.o.subs[s.id]
	delete(s.o.subs, s.id)
	s.o.subMu.Unlock()
	if ok {
		sub.close()
	}
}

type subscriber struct {
	snaps   chan Snapshot
	notices chan Notice
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.snaps)
		close(s.notices)
	})
}

// Subscribe registers an observer. The current snapshot is available on the
// returned subscription immediately.
func (o *Orchestrator) Subscribe() *Subscription {
	sub := &subscriber{
		snaps:   make(chan Snapshot, 1),
		notices: make(chan Notice, noticeBuffer),
	}
	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	sub.snaps <- o.Snapshot()

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = sub
	o.subMu.Unlock()
	return &Subscription{Snapshots: sub.snaps, Notices: sub.notices, o: o, id: id}
}

func (o *Orchestrator) publish() {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	snap := o.Snapshot()

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, s := range o.subs {
		select {
		case s.snaps <- snap:
		default:
			select {
			case <-s.snaps:
			default:
			}
			select {
			case s.snaps <- snap:
			default:
			}
		}
	}
}

func (o *Orchestrator) notify(n Notice) {
	if n.At.IsZero() {
		n.At = o.cfg.Now()
	}
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, s := range o.subs {
		select {
		case s.notices <- n:
		default:
			o.log.Warn().Stringer("notice", n.Kind).Msg("notice dropped, subscriber is not reading")
		}
	}
}
