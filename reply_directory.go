package dispatch

import (
	"sync"
	"time"
)

// replyEntry tracks one in-flight Request the way the teacher's pendingOp
// tracks an in-flight PUBLISH/SUBSCRIBE: the caller to complete plus the
// timestamp needed to detect a stale entry (client.go's pendingOp).
type replyEntry struct {
	caller    ReplyCaller
	createdAt time.Time
	ttl       time.Duration
}

// ReplyCallerDirectory correlates RequestReplyIDs to the ReplyCaller awaiting
// that Request's Reply, and sweeps entries whose TTL has elapsed without a
// Reply arriving, surfacing a KindTimeOut error to the abandoned caller.
type ReplyCallerDirectory struct {
	clock Clock

	mu      sync.Mutex
	entries map[string]*replyEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReplyCallerDirectory creates a directory and starts its background
// sweep, running every interval.
func NewReplyCallerDirectory(clk Clock, sweepInterval time.Duration) *ReplyCallerDirectory {
	d := &ReplyCallerDirectory{
		clock:   clk,
		entries: make(map[string]*replyEntry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go d.sweepLoop(sweepInterval)
	return d
}

// Register records caller as awaiting the Reply for requestReplyID, timing
// out after ttl if no reply arrives.
func (d *ReplyCallerDirectory) Register(requestReplyID string, caller ReplyCaller, ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[requestReplyID] = &replyEntry{caller: caller, createdAt: d.clock.Now(), ttl: ttl}
}

// Resolve delivers reply to the registered caller for requestReplyID and
// removes the entry. It reports false if no caller was registered (the
// reply is late, duplicate, or unsolicited).
func (d *ReplyCallerDirectory) Resolve(reply Reply) bool {
	d.mu.Lock()
	entry, ok := d.entries[reply.RequestReplyID]
	if ok {
		delete(d.entries, reply.RequestReplyID)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	if reply.Error != nil {
		entry.caller.OnError(reply.Error)
	} else {
		entry.caller.OnSuccess(reply.Response)
	}
	return true
}

// Cancel removes a registered caller without invoking it, used when the
// requester abandons the call locally (e.g. its own context is cancelled).
func (d *ReplyCallerDirectory) Cancel(requestReplyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, requestReplyID)
}

// Len reports the number of in-flight entries.
func (d *ReplyCallerDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops the background sweep and blocks until it exits.
func (d *ReplyCallerDirectory) Close() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *ReplyCallerDirectory) sweepLoop(interval time.Duration) {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.clock.After(interval):
			d.sweepOnce()
		}
	}
}

func (d *ReplyCallerDirectory) sweepOnce() {
	now := d.clock.Now()

	d.mu.Lock()
	var expired []*replyEntry
	for id, entry := range d.entries {
		if entry.ttl > 0 && now.Sub(entry.createdAt) >= entry.ttl {
			expired = append(expired, entry)
			delete(d.entries, id)
		}
	}
	d.mu.Unlock()

	for _, entry := range expired {
		entry.caller.OnError(NewError(KindTimeOut, "request reply TTL elapsed", nil))
	}
}
