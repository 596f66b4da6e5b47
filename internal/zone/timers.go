package zone

import (
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/cycle"
)

// deadlineFired is the internal mailbox event a timer posts on expiry.
type deadlineFired struct {
	kind cycle.DeadlineKind
	at   time.Time
}

// mailboxTimers implements cycle.Timers with cancellable wall-clock timers.
// Expiry is routed back through the zone mailbox so the tracker only ever
// runs on the zone goroutine. Schedule and Cancel are called from that same
// goroutine; only the AfterFunc callback runs elsewhere, and it does
// nothing but post.
type mailboxTimers struct {
	post    func(ev any)
	pending map[cycle.DeadlineKind]*time.Timer
}

func newMailboxTimers(post func(ev any)) *mailboxTimers {
	return &mailboxTimers{
		post:    post,
		pending: make(map[cycle.DeadlineKind]*time.Timer),
	}
}

func (m *mailboxTimers) Schedule(kind cycle.DeadlineKind, at time.Time) {
	m.Cancel(kind)
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	m.pending[kind] = time.AfterFunc(d, func() {
		m.post(deadlineFired{kind: kind, at: at})
	})
}

func (m *mailboxTimers) Cancel(kind cycle.DeadlineKind) {
	if t, ok := m.pending[kind]; ok {
		t.Stop()
		delete(m.pending, kind)
	}
}

func (m *mailboxTimers) stopAll() {
	for kind, t := range m.pending {
		t.Stop()
		delete(m.pending, kind)
	}
}
