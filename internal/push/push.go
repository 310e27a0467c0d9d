// Package push implements the push channel: a per-stream broadcast
// of the latest Analytics Record to WS subscribers at a fixed cadence,
// and a downstream notify hook fired after each store. Pushes coalesce
// to the newest record; subscribers are never guaranteed lossless
// delivery.
package push

import (
	"sync"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/wire"
)

var logf = monitoring.Component("Push")

// DefaultCadence is the subscriber push rate: 10 Hz.
const DefaultCadence = 100 * time.Millisecond

// subscriber is a single registered WS (or test) consumer for one
// stream. Its pending slot coalesces to the newest record; a slow
// subscriber simply misses intermediate frames, it is never blocked on.
type subscriber struct {
	mu      sync.Mutex
	pending *wire.AnalyticsRecord
	send    chan *wire.AnalyticsRecord
}

func (s *subscriber) set(r *wire.AnalyticsRecord) {
	s.mu.Lock()
	s.pending = r
	s.mu.Unlock()
}

func (s *subscriber) take() *wire.AnalyticsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.pending
	s.pending = nil
	return r
}

// streamChannel owns one stream's subscribers and runs its own cadence
// loop. At most one cadence goroutine exists per stream: the first
// subscriber starts it, and the last unsubscribe closes stop to end it;
// a later resubscribe starts a fresh one.
type streamChannel struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	running     bool
	stop        chan struct{}
}

// Broadcaster fans out the latest Analytics Record per stream to WS
// subscribers at DefaultCadence, and posts a compact notify payload to a
// configured NotifySink after each store.
type Broadcaster struct {
	clock   timeutil.Clock
	cadence time.Duration
	sink    NotifySink

	mu      sync.Mutex
	streams map[string]*streamChannel
}

// NotifySink receives the compact post-store summary. Implementations
// must not block the pipeline or retry; failures are logged only.
type NotifySink interface {
	Notify(streamID string, summary NotifyPayload)
}

// NotifyPayload is the compact summary posted to the downstream sink
// after each store.
type NotifyPayload struct {
	StreamID        string
	DetectionCount  int
	ActiveTracks    int
	PoseDetected    bool
	MaxSpeed        float64
	MotionEnergy    float64
	KeyJointAngles  map[string]float64
	StrideFrequency float64
}

// NoopSink discards every notification; used when no downstream core is
// configured.
type NoopSink struct{}

// Notify implements NotifySink.
func (NoopSink) Notify(string, NotifyPayload) {}

// NewBroadcaster returns a Broadcaster using clock for cadence pacing and
// sink for downstream notification.
func NewBroadcaster(clock timeutil.Clock, sink NotifySink) *Broadcaster {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &Broadcaster{
		clock:   clock,
		cadence: DefaultCadence,
		sink:    sink,
		streams: make(map[string]*streamChannel),
	}
}

// Subscribe registers a new subscriber for streamID and starts the
// stream's cadence loop if none is running. The returned channel
// delivers the latest coalesced record at DefaultCadence; unsubscribe
// by calling the returned func (idempotent). The last unsubscribe
// stops the stream's cadence loop.
func (b *Broadcaster) Subscribe(streamID, subscriberID string) (<-chan *wire.AnalyticsRecord, func()) {
	sc := b.streamChannelFor(streamID)

	sub := &subscriber{send: make(chan *wire.AnalyticsRecord, 1)}

	sc.mu.Lock()
	sc.subscribers[subscriberID] = sub
	if !sc.running {
		sc.running = true
		sc.stop = make(chan struct{})
		go b.runCadence(sc, sc.stop)
	}
	sc.mu.Unlock()

	return sub.send, func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if _, ok := sc.subscribers[subscriberID]; !ok {
			return
		}
		delete(sc.subscribers, subscriberID)
		if len(sc.subscribers) == 0 && sc.running {
			sc.running = false
			close(sc.stop)
		}
	}
}

func (b *Broadcaster) streamChannelFor(streamID string) *streamChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc, ok := b.streams[streamID]
	if !ok {
		sc = &streamChannel{subscribers: make(map[string]*subscriber)}
		b.streams[streamID] = sc
	}
	return sc
}

func (b *Broadcaster) runCadence(sc *streamChannel, stop <-chan struct{}) {
	ticker := b.clock.NewTicker(b.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			sc.mu.Lock()
			subs := make([]*subscriber, 0, len(sc.subscribers))
			for _, s := range sc.subscribers {
				subs = append(subs, s)
			}
			sc.mu.Unlock()
			for _, s := range subs {
				r := s.take()
				if r == nil {
					continue
				}
				select {
				case s.send <- r:
				default:
				}
			}
		}
	}
}

// Publish feeds the latest record for streamID to its subscribers'
// pending slot (coalescing to newest) and fires the
// downstream notify hook. Never blocks the caller.
func (b *Broadcaster) Publish(streamID string, record *wire.AnalyticsRecord, payload NotifyPayload) {
	b.mu.Lock()
	sc, ok := b.streams[streamID]
	b.mu.Unlock()
	if ok {
		sc.mu.Lock()
		for _, s := range sc.subscribers {
			s.set(record)
		}
		sc.mu.Unlock()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logf("stream=%s notify sink panicked: %v", streamID, r)
			}
		}()
		b.sink.Notify(streamID, payload)
	}()
}
