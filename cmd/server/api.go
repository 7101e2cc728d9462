package main

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"

	"github.com/CoinDrip-finance/protocol-v2/internal/accounting"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/payment"
	"github.com/CoinDrip-finance/protocol-v2/internal/protocol"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// api exposes the protocol engine over JSON. Amounts travel as decimal
// strings so values above int64 survive the wire.
type api struct {
	engine  *protocol.Engine
	archive storage.EventArchiveStore
	logger  *log.Logger
}

func newAPI(engine *protocol.Engine, archive storage.EventArchiveStore, logger *log.Logger) *api {
	return &api{engine: engine, archive: archive, logger: logger}
}

// routes builds the API mux. The websocket feed handler is mounted at /ws.
func (a *api) routes(feed http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /streams", a.handleCreateStream)
	mux.HandleFunc("GET /streams/{id}", a.handleGetStream)
	mux.HandleFunc("GET /streams/{id}/status", a.handleStatus)
	mux.HandleFunc("GET /streams/{id}/balances", a.handleBalances)
	mux.HandleFunc("GET /streams/{id}/events", a.handleEvents)
	mux.HandleFunc("POST /streams/{id}/claim", a.handleClaim)
	mux.HandleFunc("POST /streams/{id}/claim-swap", a.handleClaimSwap)
	mux.HandleFunc("POST /streams/{id}/claim-after-cancel", a.handleClaimAfterCancel)
	mux.HandleFunc("POST /streams/{id}/cancel", a.handleCancel)
	mux.HandleFunc("POST /streams/{id}/renounce-cancel", a.handleRenounceCancel)
	mux.HandleFunc("GET /certificates/{nonce}/stream", a.handleStreamByCertificate)
	mux.HandleFunc("PUT /fees/{asset}", a.handleSetFee)
	mux.HandleFunc("DELETE /fees/{asset}", a.handleRemoveFee)
	mux.Handle("GET /ws", feed)

	return mux
}

type segmentPayload struct {
	Amount      string `json:"amount"`
	ExponentNum uint32 `json:"exponent_num"`
	ExponentDen uint32 `json:"exponent_den"`
	Duration    int64  `json:"duration"`
}

type brokerPayload struct {
	Address string `json:"address"`
	FeeBps  int64  `json:"fee_bps"`
}

type createStreamRequest struct {
	Sender       string           `json:"sender"`
	Recipient    string           `json:"recipient"`
	PaymentAsset string           `json:"payment_asset"`
	PaymentSubID int64            `json:"payment_sub_id"`
	Deposit      string           `json:"deposit"`
	StartTime    int64            `json:"start_time"`
	EndTime      int64            `json:"end_time"`
	Cliff        int64            `json:"cliff"`
	CanCancel    bool             `json:"can_cancel"`
	Segments     []segmentPayload `json:"segments,omitempty"`
	Broker       *brokerPayload   `json:"broker,omitempty"`
}

type streamResponse struct {
	ID               int64            `json:"id"`
	Sender           string           `json:"sender"`
	CertificateNonce int64            `json:"certificate_nonce"`
	PaymentAsset     string           `json:"payment_asset"`
	PaymentSubID     int64            `json:"payment_sub_id"`
	Deposit          string           `json:"deposit"`
	ClaimedAmount    string           `json:"claimed_amount"`
	CanCancel        bool             `json:"can_cancel"`
	StartTime        int64            `json:"start_time"`
	EndTime          int64            `json:"end_time"`
	Cliff            int64            `json:"cliff"`
	Segments         []segmentPayload `json:"segments"`
	Canceled         bool             `json:"canceled"`
	SenderBalance    string           `json:"sender_balance_after_cancel,omitempty"`
	RecipientBalance string           `json:"recipient_balance_after_cancel,omitempty"`
	CreatedAt        int64            `json:"created_at"`
}

type claimResponse struct {
	StreamID         int64  `json:"stream_id"`
	CertificateNonce int64  `json:"certificate_nonce"`
	PaymentAsset     string `json:"payment_asset"`
	PaymentSubID     int64  `json:"payment_sub_id"`
	ClaimedAmount    string `json:"claimed_amount"`
	Finalized        bool   `json:"finalized"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (a *api) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deposit, ok := new(big.Int).SetString(req.Deposit, 10)
	if !ok {
		a.writeError(w, http.StatusBadRequest, "deposit must be a decimal string")
		return
	}

	params := protocol.CreateParams{
		Sender:       domain.Address(req.Sender),
		Recipient:    domain.Address(req.Recipient),
		PaymentAsset: req.PaymentAsset,
		PaymentSubID: req.PaymentSubID,
		Deposit:      deposit,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Cliff:        req.Cliff,
		CanCancel:    req.CanCancel,
	}
	for _, seg := range req.Segments {
		amount, ok := new(big.Int).SetString(seg.Amount, 10)
		if !ok {
			a.writeError(w, http.StatusBadRequest, "segment amount must be a decimal string")
			return
		}
		params.Segments = append(params.Segments, domain.Segment{
			Amount:   amount,
			Exponent: domain.Exponent{Numerator: seg.ExponentNum, Denominator: seg.ExponentDen},
			Duration: seg.Duration,
		})
	}
	if req.Broker != nil {
		params.Broker = &domain.BrokerFee{
			Address: domain.Address(req.Broker.Address),
			FeeBps:  big.NewInt(req.Broker.FeeBps),
		}
	}

	s, err := a.engine.CreateStream(r.Context(), params)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toStreamResponse(s))
}

func (a *api) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	s, err := a.engine.GetStream(r.Context(), id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toStreamResponse(s))
}

func (a *api) handleStreamByCertificate(w http.ResponseWriter, r *http.Request) {
	nonce, ok := a.pathID(w, r, "nonce")
	if !ok {
		return
	}
	s, err := a.engine.GetStreamByCertificate(r.Context(), nonce)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toStreamResponse(s))
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	status, err := a.engine.StatusOf(r.Context(), id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (a *api) handleBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	recipient, err := a.engine.RecipientBalanceOf(r.Context(), id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	sender, err := a.engine.SenderBalanceOf(r.Context(), id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{
		"recipient_balance": recipient.String(),
		"sender_balance":    sender.String(),
	})
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	records, err := a.archive.GetByStreamID(r.Context(), id)
	if err != nil {
		a.logger.Printf("load events for stream %d: %v", id, err)
		a.writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	type eventPayload struct {
		Type      string `json:"type"`
		Caller    string `json:"caller"`
		Amount    string `json:"amount,omitempty"`
		Finalized bool   `json:"finalized,omitempty"`
		Timestamp int64  `json:"timestamp"`
	}
	out := make([]eventPayload, 0, len(records))
	for _, rec := range records {
		p := eventPayload{
			Type:      rec.Type,
			Caller:    rec.Caller.String(),
			Finalized: rec.Finalized,
			Timestamp: rec.Timestamp,
		}
		if rec.Amount != nil {
			p.Amount = rec.Amount.String()
		}
		out = append(out, p)
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.engine.ClaimFromStream(r.Context(), id, domain.Address(req.Caller))
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toClaimResponse(res))
}

func (a *api) handleClaimSwap(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Caller string             `json:"caller"`
		Route  []payment.SwapStep `json:"route"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.engine.ClaimFromStreamWithSwap(r.Context(), id, domain.Address(req.Caller), req.Route)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toClaimResponse(res))
}

func (a *api) handleClaimAfterCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.engine.ClaimAfterCancel(r.Context(), id, domain.Address(req.Caller))
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toClaimResponse(res))
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Caller    string `json:"caller"`
		WithClaim *bool  `json:"with_claim"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Settlement is immediate unless the caller opts out.
	withClaim := true
	if req.WithClaim != nil {
		withClaim = *req.WithClaim
	}

	if err := a.engine.CancelStream(r.Context(), id, domain.Address(req.Caller), withClaim); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRenounceCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r, "id")
	if !ok {
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.engine.RenounceCancel(r.Context(), id, domain.Address(req.Caller)); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSetFee(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	var req struct {
		FeeBps int64 `json:"fee_bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.engine.SetProtocolFee(r.Context(), asset, big.NewInt(req.FeeBps)); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRemoveFee(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if err := a.engine.RemoveProtocolFee(r.Context(), asset); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func toStreamResponse(s *domain.Stream) streamResponse {
	resp := streamResponse{
		ID:               s.ID,
		Sender:           s.Sender.String(),
		CertificateNonce: s.CertificateNonce,
		PaymentAsset:     s.PaymentAsset,
		PaymentSubID:     s.PaymentSubID,
		Deposit:          s.Deposit.String(),
		ClaimedAmount:    s.ClaimedAmount.String(),
		CanCancel:        s.CanCancel,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Cliff:            s.Cliff,
		Canceled:         s.Canceled(),
		CreatedAt:        s.CreatedAt,
	}
	for _, seg := range s.Segments {
		resp.Segments = append(resp.Segments, segmentPayload{
			Amount:      seg.Amount.String(),
			ExponentNum: seg.Exponent.Numerator,
			ExponentDen: seg.Exponent.Denominator,
			Duration:    seg.Duration,
		})
	}
	if s.BalancesAfterCancel != nil {
		resp.SenderBalance = s.BalancesAfterCancel.SenderBalance.String()
		resp.RecipientBalance = s.BalancesAfterCancel.RecipientBalance.String()
	}
	return resp
}

func toClaimResponse(res *domain.ClaimResult) claimResponse {
	return claimResponse{
		StreamID:         res.StreamID,
		CertificateNonce: res.CertificateNonce,
		PaymentAsset:     res.PaymentAsset,
		PaymentSubID:     res.PaymentSubID,
		ClaimedAmount:    res.ClaimedAmount.String(),
		Finalized:        res.IsFinalized,
	}
}

// writeEngineError maps the protocol error taxonomy onto HTTP statuses.
func (a *api) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrInvalidStream):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, protocol.ErrInvalidRole),
		errors.Is(err, protocol.ErrInvalidCertificate):
		a.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, protocol.ErrCannotClaim),
		errors.Is(err, protocol.ErrCannotCancel),
		errors.Is(err, protocol.ErrZeroClaim),
		errors.Is(err, protocol.ErrAlreadyCancelled),
		errors.Is(err, protocol.ErrNotCancelled):
		a.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, protocol.ErrInvalidRecipient),
		errors.Is(err, protocol.ErrZeroDeposit),
		errors.Is(err, protocol.ErrInvalidWindow),
		errors.Is(err, protocol.ErrInvalidCliff),
		errors.Is(err, protocol.ErrInvalidBrokerFee),
		errors.Is(err, protocol.ErrInvalidFee),
		errors.Is(err, accounting.ErrInvalidSegments):
		a.writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Printf("internal error: %v", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Printf("encode response: %v", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
