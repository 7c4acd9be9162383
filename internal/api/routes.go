// Package api implements the wire API of §6: GET /api/v1/status and
// POST /api/v1/scan, plus a real-time websocket feed of ingestion
// events.
package api

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SakshamSinghal20/Whisper/internal/errs"
	"github.com/SakshamSinghal20/Whisper/internal/ingest"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// defaultRequestTimeout bounds every handler when APIHandler is
// constructed with a zero timeout (e.g. directly in tests).
const defaultRequestTimeout = 10 * time.Second

// StatusProvider reports the ingester's current tip for the status
// endpoint.
type StatusProvider interface {
	TipHeight(ctx context.Context) (int32, error)
}

// ProgressProvider reports the ingester's live counters for the status
// endpoint. A nil ProgressProvider simply omits the ingest fields.
type ProgressProvider interface {
	GetProgress() ingest.Progress
}

// Querier is the subset of the index store the scan endpoint needs.
type Querier interface {
	Query(ctx context.Context, fps [][4]byte, start, end int32) ([]models.Candidate, []uint32, error)
}

// APIHandler holds the collaborators the HTTP handlers need. NetworkName
// is resolved once at startup since it never changes over the process
// lifetime.
type APIHandler struct {
	store          Querier
	status         StatusProvider
	progress       ProgressProvider
	network        string
	allowedOrigins string
	rateLimiter    *RateLimiter
	requestTimeout time.Duration
}

// NewAPIHandler constructs a handler. progress may be nil to omit
// ingest counters from /api/v1/status. rateLimiter may be nil to
// disable rate limiting entirely. A zero requestTimeout falls back to
// defaultRequestTimeout.
func NewAPIHandler(store Querier, status StatusProvider, progress ProgressProvider, network, allowedOrigins string, rateLimiter *RateLimiter, requestTimeout time.Duration) *APIHandler {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &APIHandler{
		store:          store,
		status:         status,
		progress:       progress,
		network:        network,
		allowedOrigins: allowedOrigins,
		rateLimiter:    rateLimiter,
		requestTimeout: requestTimeout,
	}
}

// SetupRouter wires the public routes, CORS, optional rate limiting, and
// the websocket subscription endpoint.
func SetupRouter(h *APIHandler, hub *Hub) *gin.Engine {
	r := gin.Default()

	allowedOrigins := h.allowedOrigins
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Encoding, Authorization, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	v1 := r.Group("/api/v1")
	if h.rateLimiter != nil {
		v1.Use(h.rateLimiter.Middleware())
	}
	v1.Use(h.deadlineMiddleware())
	v1.GET("/status", h.handleStatus)
	v1.POST("/scan", h.handleScan)

	if hub != nil {
		r.GET("/api/v1/stream", hub.Subscribe)
	}

	return r
}

// deadlineMiddleware bounds every v1 handler by h.requestTimeout, per
// §5: "All handlers respect a request deadline; on deadline expiry the
// server returns a 'timeout' fail and releases its store connection."
// The store call itself observes ctx cancellation; this middleware only
// establishes the deadline the store's context carries.
func (h *APIHandler) deadlineMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type statusResponse struct {
	Status    string          `json:"status"`
	TipHeight uint32          `json:"tip_height"`
	Network   string          `json:"network"`
	Ingest    *ingestProgress `json:"ingest,omitempty"`
}

type ingestProgress struct {
	IsRunning     bool  `json:"is_running"`
	CurrentHeight int64 `json:"current_height"`
	TotalIngested int64 `json:"total_ingested"`
	TotalFailed   int64 `json:"total_failed"`
}

func (h *APIHandler) handleStatus(c *gin.Context) {
	tip, err := h.status.TipHeight(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	resp := statusResponse{
		Status:    "ok",
		TipHeight: uint32(tip),
		Network:   h.network,
	}
	if h.progress != nil {
		p := h.progress.GetProgress()
		resp.Ingest = &ingestProgress{
			IsRunning:     p.IsRunning,
			CurrentHeight: p.CurrentHeight,
			TotalIngested: p.TotalIngested,
			TotalFailed:   p.TotalFailed,
		}
	}
	c.JSON(http.StatusOK, resp)
}

type scanRequestBody struct {
	ScanPubkey    string   `json:"scan_pubkey"`
	StartHeight   uint32   `json:"start_height"`
	EndHeight     uint32   `json:"end_height"`
	Prefixes      []string `json:"prefixes"`
	IncludeProofs bool     `json:"include_proofs"`
}

type candidateResponse struct {
	TxID         string `json:"txid"`
	Vout         uint32 `json:"vout"`
	Amount       uint64 `json:"amount"`
	ScriptPubkey string `json:"script_pubkey"`
	BlockHeight  uint32 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
	Timestamp    uint64 `json:"timestamp"`
}

type scanResponseBody struct {
	Candidates    []candidateResponse `json:"candidates"`
	ScannedBlocks []uint32            `json:"scanned_blocks"`
	ServerTimeMS  uint64              `json:"server_time_ms"`
}

// handleScan validates the request per §4.4, consults the index store,
// and returns the matching candidates. On any validation failure it
// returns 400 and no partial results.
func (h *APIHandler) handleScan(c *gin.Context) {
	start := time.Now()

	var body scanRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	fps, err := validateScanRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candidates, scanned, err := h.store.Query(c.Request.Context(), fps, int32(body.StartHeight), int32(body.EndHeight))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errs.Is(err, errs.BadRequest):
			status = http.StatusBadRequest
		case errs.Is(err, errs.StoreBusy), errs.Is(err, errs.StoreUnavailable):
			status = http.StatusServiceUnavailable
		case errs.Is(err, errs.Timeout):
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": "query failed"})
		return
	}

	resp := scanResponseBody{
		Candidates:    make([]candidateResponse, len(candidates)),
		ScannedBlocks: scanned,
		ServerTimeMS:  uint64(time.Since(start).Milliseconds()),
	}
	for i, cand := range candidates {
		resp.Candidates[i] = candidateResponse{
			TxID:         cand.TxID.String(),
			Vout:         cand.Vout,
			Amount:       uint64(cand.Amount),
			ScriptPubkey: hex.EncodeToString(cand.ScriptPubKey[:]),
			BlockHeight:  uint32(cand.BlockHeight),
			BlockHash:    cand.BlockHash.String(),
			Timestamp:    uint64(cand.BlockTime),
		}
	}
	c.JSON(http.StatusOK, resp)
}
