package ingest

import (
	"context"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/bitcoin"
	"github.com/SakshamSinghal20/Whisper/internal/errs"
)

// BlockSource is a push stream of raw serialised blocks: the core
// ingestion loop needs only a receive-one-block primitive that blocks
// until the next block is available or the source is closed (§6).
type BlockSource interface {
	// Next blocks until a new block is available, ctx is cancelled, or
	// the source is permanently closed (io.EOF-style sentinel via err).
	Next(ctx context.Context) (raw []byte, err error)
}

// RPCPollingSource is the default BlockSource: it polls a Bitcoin Core
// node on a fixed interval for any height beyond the last one it
// delivered, fetching and returning blocks strictly in height order.
// Grounded on the teacher's ticker-driven poll loop; adapted here from
// mempool-transaction polling to new-block polling.
type RPCPollingSource struct {
	client       *bitcoin.Client
	pollInterval time.Duration
	lastHeight   int64
}

// NewRPCPollingSource constructs a polling source that starts delivering
// blocks strictly after fromHeight.
func NewRPCPollingSource(client *bitcoin.Client, pollInterval time.Duration, fromHeight int64) *RPCPollingSource {
	return &RPCPollingSource{
		client:       client,
		pollInterval: pollInterval,
		lastHeight:   fromHeight,
	}
}

// Next blocks until a block beyond lastHeight is available on the node,
// then returns its raw consensus-encoded bytes.
func (s *RPCPollingSource) Next(ctx context.Context) ([]byte, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		tip, err := s.client.GetBlockCount()
		if err != nil {
			return nil, errs.Wrap(errs.UpstreamUnavailable, err, "poll: getblockcount failed")
		}

		if tip > s.lastHeight {
			next := s.lastHeight + 1
			hash, err := s.client.GetBlockHash(next)
			if err != nil {
				return nil, errs.Wrap(errs.UpstreamUnavailable, err, "poll: getblockhash failed")
			}
			raw, err := s.client.GetBlockRaw(hash)
			if err != nil {
				return nil, errs.Wrap(errs.UpstreamUnavailable, err, "poll: getblock failed")
			}
			s.lastHeight = next
			return raw, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
