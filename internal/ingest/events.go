package ingest

import (
	"encoding/json"
	"log"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type blockEvent struct {
	Type   string `json:"type"`
	Height int32  `json:"height"`
	Hash   string `json:"hash,omitempty"`
}

func blockIndexedPayload(height int32, hash chainhash.Hash) []byte {
	return marshalEvent(blockEvent{Type: "block_indexed", Height: height, Hash: hash.String()})
}

func blockOrphanedPayload(height int32) []byte {
	return marshalEvent(blockEvent{Type: "block_orphaned", Height: height})
}

func marshalEvent(e blockEvent) []byte {
	b, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Ingest] failed to marshal %s event: %v", e.Type, err)
		return nil
	}
	return b
}
