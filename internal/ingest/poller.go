// Package ingest tracks uploads that the extraction workflow has not yet
// written back, and decides when the "processing" banner can be cleared.
//
// A Poller is a finite-state controller. Every transition goes through
// one event handler under one lock; timers carry the generation they were
// scheduled for and are ignored once the batch they belong to has been
// re-triggered, abandoned or closed.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the banner state.
type State string

const (
	Idle               State = "idle"
	Uploading          State = "uploading"
	AwaitingProcessing State = "awaiting_processing"
	Reconciled         State = "reconciled"
	TimedOut           State = "timed_out"
)

// Active reports whether the processing banner is shown in s.
func (s State) Active() bool {
	return s == Uploading || s == AwaitingProcessing
}

// Default timing.
const (
	DefaultCountdown = 25 * time.Second
	TickInterval     = time.Second
)

// DefaultRefetchOffsets are the re-query points after upload success.
var DefaultRefetchOffsets = []time.Duration{2 * time.Second, 7 * time.Second, 12 * time.Second}

// ErrClosed is returned by BeginUpload after Close.
var ErrClosed = errors.New("ingest poller closed")

// Source is the record store as seen by the poller.
type Source interface {
	CountFis(ctx context.Context) (int64, error)
	InvalidateStats()
}

// Snapshot is the externally visible poller state.
type Snapshot struct {
	State       State     `json:"state"`
	BatchID     string    `json:"batchId,omitempty"`
	Baseline    int64     `json:"baseline"`
	LastCount   int64     `json:"lastCount"`
	SecondsLeft int       `json:"secondsLeft"`
	Pending     int       `json:"pending"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	ChangedAt   time.Time `json:"changedAt"`
}

// Active reports whether the banner should be visible.
func (s Snapshot) Active() bool { return s.State.Active() }

type eventKind int

const (
	evUploadSucceeded eventKind = iota
	evUploadFailed
	evRefetchResolved
	evTick
	evAbandon
)

func (k eventKind) String() string {
	switch k {
	case evUploadSucceeded:
		return "upload_succeeded"
	case evUploadFailed:
		return "upload_failed"
	case evRefetchResolved:
		return "refetch_resolved"
	case evTick:
		return "tick"
	case evAbandon:
		return "abandon"
	default:
		return "unknown"
	}
}

type event struct {
	kind  eventKind
	batch string
	gen   uint64
	count int64
}

// Options tunes a Poller. Zero values select the defaults.
type Options struct {
	Countdown      time.Duration
	RefetchOffsets []time.Duration
	Clock          Clock
	Logger         *slog.Logger
}

// Poller owns the ingestion state.
type Poller struct {
	source    Source
	clock     Clock
	countdown time.Duration
	offsets   []time.Duration
	log       *slog.Logger

	mu        sync.Mutex
	closed    bool
	gen       uint64
	state     State
	batchID   string
	baseline  int64
	lastCount int64
	remaining time.Duration
	pending   int
	succeeded int
	failed    int
	changedAt time.Time
	timers    []Timer
	cancel    context.CancelFunc
	subs      map[int]chan Snapshot
	nextSub   int
}

// NewPoller returns an idle poller over source.
func NewPoller(source Source, opts Options) *Poller {
	if opts.Countdown <= 0 {
		opts.Countdown = DefaultCountdown
	}
	if opts.RefetchOffsets == nil {
		opts.RefetchOffsets = DefaultRefetchOffsets
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Poller{
		source:    source,
		clock:     opts.Clock,
		countdown: opts.Countdown,
		offsets:   append([]time.Duration(nil), opts.RefetchOffsets...),
		log:       opts.Logger.With("component", "ingest"),
		state:     Idle,
		subs:      make(map[int]chan Snapshot),
	}
	p.changedAt = p.clock.Now()
	return p
}

// BeginUpload starts a batch of files uploads, or joins the batch already
// in flight. The record count is captured as the baseline once, when a new
// batch starts. It returns the batch id to report outcomes against.
func (p *Poller) BeginUpload(ctx context.Context, files int) (string, error) {
	if files < 1 {
		files = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if id, ok := p.joinLocked(files); ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	baseline, err := p.source.CountFis(ctx)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	// Another upload may have opened a batch while the count was running.
	if id, ok := p.joinLocked(files); ok {
		return id, nil
	}

	p.resetLocked()
	p.batchID = uuid.NewString()
	p.baseline = baseline
	p.lastCount = baseline
	p.pending = files
	p.remaining = p.countdown
	p.setStateLocked(Uploading)
	p.log.Info("upload batch started", "batch_id", p.batchID, "files", files, "baseline", baseline)
	return p.batchID, nil
}

// joinLocked adds files to the active batch. Pending timers are dropped
// until the joined uploads finish.
func (p *Poller) joinLocked(files int) (string, bool) {
	if p.closed || !p.state.Active() {
		return "", false
	}
	p.stopTimersLocked()
	p.gen++
	p.pending += files
	p.setStateLocked(Uploading)
	p.log.Debug("upload joined batch", "batch_id", p.batchID, "pending", p.pending)
	return p.batchID, true
}

// UploadSucceeded records one successful file transfer in batch.
func (p *Poller) UploadSucceeded(batch string) {
	p.handle(event{kind: evUploadSucceeded, batch: batch})
}

// UploadFailed records one failed file transfer in batch.
func (p *Poller) UploadFailed(batch string) {
	p.handle(event{kind: evUploadFailed, batch: batch})
}

// Abandon drops the current batch and returns to Idle.
func (p *Poller) Abandon() {
	p.handle(event{kind: evAbandon})
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe returns a channel that receives the current snapshot and then
// every change. Slow readers only see the latest snapshot. The returned
// func unsubscribes; the channel is closed on unsubscribe or Close.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.snapshotLocked()

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// Close stops every timer and closes subscriber channels. Later events
// are ignored.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.resetLocked()
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}

func (p *Poller) handle(e event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.log.Debug("ingest event", "event", e.kind.String(), "state", p.state, "batch_id", p.batchID)

	switch e.kind {
	case evAbandon:
		if p.state != Idle {
			p.log.Info("upload batch abandoned", "batch_id", p.batchID)
		}
		p.resetLocked()
		p.setStateLocked(Idle)

	case evUploadSucceeded, evUploadFailed:
		if p.state != Uploading || e.batch != p.batchID {
			return
		}
		if e.kind == evUploadSucceeded {
			p.succeeded++
		} else {
			p.failed++
		}
		p.pending--
		if p.pending > 0 {
			p.broadcastLocked()
			return
		}
		if p.succeeded == 0 {
			p.log.Info("upload batch failed", "batch_id", p.batchID, "failed", p.failed)
			p.resetLocked()
			p.setStateLocked(Idle)
			return
		}
		p.awaitLocked()

	case evRefetchResolved:
		if e.gen != p.gen || p.state != AwaitingProcessing {
			return
		}
		p.lastCount = e.count
		if e.count > p.baseline {
			p.log.Info("upload batch reconciled", "batch_id", p.batchID, "baseline", p.baseline, "count", e.count)
			p.stopTimersLocked()
			p.gen++
			p.remaining = 0
			p.setStateLocked(Reconciled)
			return
		}
		p.broadcastLocked()

	case evTick:
		if e.gen != p.gen || p.state != AwaitingProcessing {
			return
		}
		p.remaining -= TickInterval
		if p.remaining <= 0 {
			p.remaining = 0
			p.log.Info("upload batch timed out", "batch_id", p.batchID, "baseline", p.baseline, "count", p.lastCount)
			p.stopTimersLocked()
			p.gen++
			p.setStateLocked(TimedOut)
			return
		}
		p.scheduleLocked(TickInterval, p.tickFunc(e.gen))
		p.broadcastLocked()
	}
}

// awaitLocked enters AwaitingProcessing with a fresh countdown and
// refetch schedule bound to a new generation.
func (p *Poller) awaitLocked() {
	p.stopTimersLocked()
	p.gen++
	gen := p.gen

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.remaining = p.countdown

	p.scheduleLocked(TickInterval, p.tickFunc(gen))
	for _, off := range p.offsets {
		p.scheduleLocked(off, p.refetchFunc(ctx, gen))
	}
	p.log.Info("awaiting workflow write-back", "batch_id", p.batchID, "countdown", p.countdown)
	p.setStateLocked(AwaitingProcessing)
}

func (p *Poller) tickFunc(gen uint64) func() {
	return func() { p.handle(event{kind: evTick, gen: gen}) }
}

func (p *Poller) refetchFunc(ctx context.Context, gen uint64) func() {
	return func() {
		p.mu.Lock()
		stale := p.closed || gen != p.gen
		p.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}

		p.source.InvalidateStats()
		count, err := p.source.CountFis(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("refetch failed", "error", err)
			}
			return
		}
		p.handle(event{kind: evRefetchResolved, gen: gen, count: count})
	}
}

func (p *Poller) scheduleLocked(d time.Duration, f func()) {
	p.timers = append(p.timers, p.clock.AfterFunc(d, f))
}

func (p *Poller) stopTimersLocked() {
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// resetLocked drops the batch and invalidates every outstanding timer.
func (p *Poller) resetLocked() {
	p.stopTimersLocked()
	p.gen++
	p.batchID = ""
	p.baseline = 0
	p.lastCount = 0
	p.remaining = 0
	p.pending = 0
	p.succeeded = 0
	p.failed = 0
}

func (p *Poller) setStateLocked(s State) {
	p.state = s
	p.changedAt = p.clock.Now()
	p.broadcastLocked()
}

func (p *Poller) snapshotLocked() Snapshot {
	return Snapshot{
		State:       p.state,
		BatchID:     p.batchID,
		Baseline:    p.baseline,
		LastCount:   p.lastCount,
		SecondsLeft: int(math.Ceil(p.remaining.Seconds())),
		Pending:     p.pending,
		Succeeded:   p.succeeded,
		Failed:      p.failed,
		ChangedAt:   p.changedAt,
	}
}

func (p *Poller) broadcastLocked() {
	snap := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
