package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/core/vesting"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// Reader serves committed ledger state with vesting figures.
type Reader struct {
	store storage.Store
	log   *slog.Logger
}

// StreamView is a stream with its derived figures at AtBlock.
type StreamView struct {
	ID                 string              `json:"id"`
	Sender             string              `json:"sender"`
	Recipient          string              `json:"recipient"`
	TotalAmount        string              `json:"totalAmount"`
	WithdrawnAmount    string              `json:"withdrawnAmount"`
	StartBlock         uint64              `json:"startBlock"`
	EndBlock           uint64              `json:"endBlock"`
	Cancelled          bool                `json:"cancelled"`
	CancelledAtBlock   *uint64             `json:"cancelledAtBlock,omitempty"`
	CreatedAtBlock     uint64              `json:"createdAtBlock"`
	CreatedTxHash      string              `json:"createdTxHash"`
	AtBlock            uint64              `json:"atBlock"`
	VestedAmount       string              `json:"vestedAmount"`
	WithdrawableAmount string              `json:"withdrawableAmount"`
	Status             domain.StreamStatus `json:"status"`
}

type checkpointView struct {
	ChainID         string `json:"chainId"`
	Height          uint64 `json:"height"`
	BlockHash       string `json:"blockHash"`
	ParentBlockHash string `json:"parentBlockHash"`
	ProcessedAt     string `json:"processedAt"`
}

// NewReader creates the read API over a store.
func NewReader(store storage.Store) *Reader {
	return &Reader{store: store, log: slog.Default().With("component", "reader")}
}

// Register mounts the read routes.
func (rd *Reader) Register(mux Mux) {
	mux.Handle("GET /v1/streams/{id}", http.HandlerFunc(rd.handleStream))
	mux.Handle("GET /v1/users/{address}/streams", http.HandlerFunc(rd.handleUserStreams))
	mux.Handle("GET /v1/checkpoint", http.HandlerFunc(rd.handleCheckpoint))
}

// GetStream returns a stream with figures at atBlock, or nil if unknown.
func (rd *Reader) GetStream(ctx context.Context, id uint64, atBlock uint64) (*StreamView, error) {
	s, err := rd.store.Streams().Get(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	v := newStreamView(s, atBlock)
	return &v, nil
}

// GetStreamsForUser returns streams where address is sender or recipient.
func (rd *Reader) GetStreamsForUser(ctx context.Context, address string, atBlock uint64) ([]StreamView, error) {
	streams, err := rd.store.Streams().ListByParty(ctx, address)
	if err != nil {
		return nil, err
	}
	out := make([]StreamView, 0, len(streams))
	for _, s := range streams {
		out = append(out, newStreamView(s, atBlock))
	}
	return out, nil
}

func newStreamView(s *domain.Stream, atBlock uint64) StreamView {
	snap := vesting.Compute(s, atBlock)
	return StreamView{
		ID:                 strconv.FormatUint(s.ID, 10),
		Sender:             s.Sender,
		Recipient:          s.Recipient,
		TotalAmount:        s.TotalAmount.String(),
		WithdrawnAmount:    s.WithdrawnAmount.String(),
		StartBlock:         s.StartBlock,
		EndBlock:           s.EndBlock,
		Cancelled:          s.Cancelled,
		CancelledAtBlock:   s.CancelledAtBlock,
		CreatedAtBlock:     s.CreatedAtBlock,
		CreatedTxHash:      s.CreatedTxHash,
		AtBlock:            snap.AtBlock,
		VestedAmount:       snap.VestedAmount.String(),
		WithdrawableAmount: snap.WithdrawableAmount.String(),
		Status:             snap.Status,
	}
}

// atBlock resolves the reference height: ?at=, else the latest checkpoint.
func (rd *Reader) atBlock(r *http.Request) (uint64, int, string) {
	if at := r.URL.Query().Get("at"); at != "" {
		h, err := strconv.ParseUint(at, 10, 64)
		if err != nil {
			return 0, http.StatusBadRequest, "invalid at height"
		}
		return h, 0, ""
	}
	cp, err := rd.store.Checkpoints().Latest(r.Context())
	if err != nil {
		rd.log.Error("Failed to get latest checkpoint", "error", err)
		return 0, http.StatusInternalServerError, "storage unavailable"
	}
	if cp == nil {
		return 0, 0, ""
	}
	return cp.Height, 0, ""
}

func (rd *Reader) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stream id")
		return
	}
	at, code, msg := rd.atBlock(r)
	if code != 0 {
		writeError(w, code, msg)
		return
	}

	v, err := rd.GetStream(r.Context(), id, at)
	if err != nil {
		rd.log.Error("Failed to get stream", "stream_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (rd *Reader) handleUserStreams(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	at, code, msg := rd.atBlock(r)
	if code != 0 {
		writeError(w, code, msg)
		return
	}

	views, err := rd.GetStreamsForUser(r.Context(), address, at)
	if err != nil {
		rd.log.Error("Failed to list streams", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"atBlock": at, "streams": views})
}

func (rd *Reader) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := rd.store.Checkpoints().Latest(r.Context())
	if err != nil {
		rd.log.Error("Failed to get latest checkpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no block applied yet")
		return
	}
	writeJSON(w, http.StatusOK, checkpointView{
		ChainID:         string(rd.store.ChainID()),
		Height:          cp.Height,
		BlockHash:       cp.BlockHash,
		ParentBlockHash: cp.ParentBlockHash,
		ProcessedAt:     cp.ProcessedAt.UTC().Format(time.RFC3339),
	})
}
