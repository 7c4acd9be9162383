// Package ingest drives the block ingestion pipeline: pulling raw blocks
// from a BlockSource, parsing them with the block parser, and persisting
// the result to the index store under the state machine of §4.4.
package ingest

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/blockparser"
	"github.com/SakshamSinghal20/Whisper/internal/errs"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// backoffSchedule bounds the reconnection delay after an
// UpstreamUnavailable error, per §5's "bounded exponential backoff".
var backoffSchedule = []time.Duration{
	time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
}

// IndexStore is the subset of the store the ingester needs: block
// insertion and orphan marking. Narrowed to an interface so the
// pipeline can be driven against a fake in tests.
type IndexStore interface {
	InsertBlock(ctx context.Context, pb *models.ParsedBlock) error
	MarkOrphan(ctx context.Context, height int32) error
}

// Broadcaster is the subset of the websocket hub the ingester needs to
// emit real-time block events. Nil-safe: a nil Broadcaster is treated as
// "no real-time feed configured".
type Broadcaster interface {
	Broadcast(data []byte)
}

// Ingester is the single long-lived ingestion task: it holds exclusive
// writer access to the store while query tasks run read-only in
// parallel (§5).
type Ingester struct {
	source BlockSource
	parser *blockparser.Parser
	store  IndexStore
	hub    Broadcaster

	currentHeight atomic.Int64
	totalIngested atomic.Int64
	totalFailed   atomic.Int64
	isRunning     atomic.Bool

	statesMu sync.Mutex
	states   map[int32]State
}

// New wires a BlockSource, Parser and Store into an Ingester. hub may be
// nil if no real-time feed is configured.
func New(source BlockSource, parser *blockparser.Parser, st IndexStore, hub Broadcaster) *Ingester {
	return &Ingester{source: source, parser: parser, store: st, hub: hub, states: make(map[int32]State)}
}

// advance enforces the §4.4 state machine for the block at height: a
// height never seen by this process is Unseen by default. It returns an
// error and leaves the state untouched if the transition is illegal.
func (ig *Ingester) advance(height int32, next State) error {
	ig.statesMu.Lock()
	defer ig.statesMu.Unlock()
	cur := ig.states[height]
	if !cur.CanTransition(next) {
		if cur.Terminal() {
			return errs.Newf(errs.BadBlock, "height %d: already %s, ignoring transition to %s", height, cur, next)
		}
		return errs.Newf(errs.BadBlock, "height %d: illegal transition %s -> %s", height, cur, next)
	}
	ig.states[height] = next
	return nil
}

// Progress is the ingester's current state, exposed to /api/v1/status.
type Progress struct {
	IsRunning     bool
	CurrentHeight int64
	TotalIngested int64
	TotalFailed   int64
}

// GetProgress returns a snapshot of the ingester's progress counters.
func (ig *Ingester) GetProgress() Progress {
	return Progress{
		IsRunning:     ig.isRunning.Load(),
		CurrentHeight: ig.currentHeight.Load(),
		TotalIngested: ig.totalIngested.Load(),
		TotalFailed:   ig.totalFailed.Load(),
	}
}

// Run consumes blocks from the source until ctx is cancelled. Blocks
// arrive in order and each is committed fully before the next begins
// parsing — no partial-block writes are possible, per §5.
func (ig *Ingester) Run(ctx context.Context) {
	ig.isRunning.Store(true)
	defer ig.isRunning.Store(false)

	log.Println("[Ingest] starting ingestion pipeline")
	backoffIdx := 0

	for {
		select {
		case <-ctx.Done():
			log.Println("[Ingest] stopping ingestion pipeline")
			return
		default:
		}

		raw, err := ig.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errs.Is(err, errs.UpstreamUnavailable) {
				delay := backoffSchedule[backoffIdx]
				if backoffIdx < len(backoffSchedule)-1 {
					backoffIdx++
				}
				log.Printf("[Ingest] block source unavailable, retrying in %s: %v", delay, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			log.Printf("[Ingest] unexpected source error: %v", err)
			continue
		}
		backoffIdx = 0

		ig.ingestOne(ctx, raw)
	}
}

// ingestOne drives a single block through received -> parsed ->
// persisted, or -> failed. Parser and store errors are logged and the
// pipeline continues with the next block — a BadBlock never stops the
// process (§4.2, §7).
func (ig *Ingester) ingestOne(ctx context.Context, raw []byte) {
	pb, err := ig.parser.ParseBlock(raw)
	if err != nil {
		ig.totalFailed.Add(1)
		log.Printf("[Ingest] block parse failed, skipping: %v", err)
		return
	}

	if err := ig.advance(pb.Height, Received); err != nil {
		ig.totalFailed.Add(1)
		log.Printf("[Ingest] %v", err)
		return
	}
	if err := ig.advance(pb.Height, Parsed); err != nil {
		ig.totalFailed.Add(1)
		log.Printf("[Ingest] %v", err)
		return
	}

	if err := ig.store.InsertBlock(ctx, pb); err != nil {
		if errs.Is(err, errs.StoreConflict) {
			log.Printf("[Ingest] store conflict at height %d, block dropped: %v", pb.Height, err)
		} else {
			log.Printf("[Ingest] store insert failed at height %d: %v", pb.Height, err)
		}
		_ = ig.advance(pb.Height, Failed)
		ig.totalFailed.Add(1)
		return
	}

	if err := ig.advance(pb.Height, Persisted); err != nil {
		log.Printf("[Ingest] %v", err)
		ig.totalFailed.Add(1)
		return
	}

	ig.currentHeight.Store(int64(pb.Height))
	ig.totalIngested.Add(1)

	if ig.hub != nil {
		ig.hub.Broadcast(blockIndexedPayload(pb.Height, pb.Hash))
	}
}

// MarkOrphan flips a persisted block's orphan flag in response to an
// external reorg signal and notifies any real-time subscribers. The
// in-memory state map only covers heights this process has ingested
// itself, so a height tracked as anything other than Persisted is
// rejected as an illegal transition, but a height this process never
// saw (e.g. persisted by an earlier process run) is assumed eligible
// and orphaned on the store's say-so.
func (ig *Ingester) MarkOrphan(ctx context.Context, height int32) error {
	ig.statesMu.Lock()
	if cur, tracked := ig.states[height]; tracked && !cur.CanTransition(Orphaned) {
		ig.statesMu.Unlock()
		return errs.Newf(errs.BadRequest, "height %d: illegal transition %s -> %s", height, cur, Orphaned)
	}
	ig.states[height] = Orphaned
	ig.statesMu.Unlock()

	if err := ig.store.MarkOrphan(ctx, height); err != nil {
		return err
	}
	if ig.hub != nil {
		ig.hub.Broadcast(blockOrphanedPayload(height))
	}
	return nil
}
