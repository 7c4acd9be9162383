package ingest

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/SakshamSinghal20/Whisper/internal/blockparser"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// fakeSource delivers a fixed queue of raw blocks, then blocks until ctx
// is cancelled — mirroring a real BlockSource that idles once caught up.
type fakeSource struct {
	mu    sync.Mutex
	queue [][]byte
}

func (f *fakeSource) Next(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		raw := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return raw, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeStore struct {
	mu      sync.Mutex
	blocks  []*models.ParsedBlock
	orphans []int32
}

func (f *fakeStore) InsertBlock(ctx context.Context, pb *models.ParsedBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, pb)
	return nil
}

func (f *fakeStore) MarkOrphan(ctx context.Context, height int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans = append(f.orphans, height)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

func bip34ScriptForTest(height int32) []byte {
	var b []byte
	v := height
	for v > 0 {
		b = append(b, byte(v&0xff))
		v >>= 8
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	script := make([]byte, 0, len(b)+1)
	script = append(script, byte(len(b)))
	script = append(script, b...)
	return script
}

func rawTestBlock(t *testing.T, height int32) []byte {
	t.Helper()
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  bip34ScriptForTest(height),
		Sequence:         0xffffffff,
	})
	p2tr := make([]byte, 34)
	p2tr[0], p2tr[1] = 0x51, 0x20
	coinbase.AddTxOut(wire.NewTxOut(1000, p2tr))

	header := wire.BlockHeader{Timestamp: time.Unix(1700000000, 0), Bits: 0x1d00ffff}
	blk := wire.MsgBlock{Header: header, Transactions: []*wire.MsgTx{coinbase}}

	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		t.Fatalf("serialize fixture block: %v", err)
	}
	return buf.Bytes()
}

func TestIngesterPersistsBlocksInOrder(t *testing.T) {
	src := &fakeSource{queue: [][]byte{
		rawTestBlock(t, 100),
		rawTestBlock(t, 101),
		rawTestBlock(t, 102),
	}}
	st := &fakeStore{}
	ig := New(src, blockparser.New(), st, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ig.Run(ctx)

	if st.count() != 3 {
		t.Fatalf("expected 3 blocks persisted, got %d", st.count())
	}
	if st.blocks[0].Height != 100 || st.blocks[2].Height != 102 {
		t.Fatalf("blocks not persisted in arrival order: %+v", st.blocks)
	}
	if ig.GetProgress().TotalIngested != 3 {
		t.Fatalf("progress TotalIngested = %d, want 3", ig.GetProgress().TotalIngested)
	}
}

func TestIngesterSkipsUnparseableBlockAndContinues(t *testing.T) {
	src := &fakeSource{queue: [][]byte{
		{0xde, 0xad}, // garbage, fails to deserialise
		rawTestBlock(t, 200),
	}}
	st := &fakeStore{}
	ig := New(src, blockparser.New(), st, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ig.Run(ctx)

	if st.count() != 1 {
		t.Fatalf("expected 1 block persisted after skipping garbage, got %d", st.count())
	}
	if ig.GetProgress().TotalFailed != 1 {
		t.Fatalf("progress TotalFailed = %d, want 1", ig.GetProgress().TotalFailed)
	}
}

func TestIngesterMarkOrphanNotifiesHub(t *testing.T) {
	st := &fakeStore{}
	var broadcast []byte
	hub := broadcastFunc(func(data []byte) { broadcast = data })

	ig := New(&fakeSource{}, blockparser.New(), st, hub)
	if err := ig.MarkOrphan(context.Background(), 555); err != nil {
		t.Fatalf("MarkOrphan: %v", err)
	}
	if len(st.orphans) != 1 || st.orphans[0] != 555 {
		t.Fatalf("expected MarkOrphan(555) to reach the store, got %v", st.orphans)
	}
	if broadcast == nil {
		t.Fatalf("expected a broadcast event on orphan mark")
	}
}

type broadcastFunc func(data []byte)

func (f broadcastFunc) Broadcast(data []byte) { f(data) }
