package apiserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cosmossdk.io/math"
	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/session"
	"github.com/coldbell/solpool/internal/store"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
)

// Submission statuses reported by the status endpoint and kept in the log.
const (
	SubmissionPending    = "pending"
	SubmissionProcessing = "processing"
	SubmissionConfirmed  = "confirmed"
	SubmissionRejected   = "rejected"
)

type poolResponse struct {
	Phase                    session.Phase     `json:"phase"`
	Generation               uint64            `json:"generation"`
	Pool                     solana.PublicKey  `json:"pool"`
	Snapshot                 *session.Snapshot `json:"snapshot,omitempty"`
	CooldownRemainingSeconds int64             `json:"cooldown_remaining_seconds"`
	Error                    string            `json:"error,omitempty"`
}

func (s *Service) poolView() poolResponse {
	state := s.monitor.State()
	out := poolResponse{
		Phase:      state.Phase,
		Generation: state.Generation,
		Pool:       s.pool,
		Snapshot:   state.Snapshot,
	}
	if state.Err != nil {
		out.Error = state.Err.Error()
	}
	window := s.cfg.Client.SelectionCooldown
	if window <= 0 {
		window = lottery.SelectionCooldown
	}
	out.CooldownRemainingSeconds = int64(s.monitor.CooldownRemaining(window).Seconds())
	return out
}

func (s *Service) handlePool(w http.ResponseWriter, r *http.Request) {
	view := s.poolView()
	if view.Snapshot == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, view)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Service) handlePoolHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "pool history is disabled")
		return
	}
	limit, err := parseOptionalInt(r, "limit", 50)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseOptionalInt64(r, "since")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, limit, offset, err := s.store.ListPoolSnapshots(r.Context(), store.SnapshotFilter{
		PoolAddress: s.pool.String(),
		Since:       since,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		s.logger.Error("list pool snapshots failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list pool history")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.PoolSnapshot]{Items: items, Limit: limit, Offset: offset})
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner, err := solana.PublicKeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil || owner.IsZero() {
		s.respondError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	status, err := s.client.Status(r.Context(), owner)
	if err != nil {
		s.respondKindError(w, err, "failed to read deposit")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

type prepareRequest struct {
	Operation string `json:"operation"`
	Payer     string `json:"payer"`
	// One of AmountSOL or Lamports, for deposit and withdraw.
	AmountSOL  string   `json:"amount_sol,omitempty"`
	Lamports   string   `json:"lamports,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

type prepareResponse struct {
	Operation   lottery.Operation      `json:"operation"`
	FeePayer    solana.PublicKey       `json:"fee_payer"`
	Transaction string                 `json:"transaction"`
	Freshness   lottery.FreshnessToken `json:"freshness"`
}

func (req prepareRequest) intent() (solana.PublicKey, client.Intent, error) {
	payer, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Payer))
	if err != nil || payer.IsZero() {
		return solana.PublicKey{}, client.Intent{}, errors.New("invalid payer")
	}
	op, err := lottery.ParseOperation(req.Operation)
	if err != nil {
		return solana.PublicKey{}, client.Intent{}, err
	}
	intent := client.Intent{Operation: op}

	if op.TakesAmount() {
		var amount math.Int
		switch {
		case req.AmountSOL != "" && req.Lamports != "":
			return solana.PublicKey{}, client.Intent{}, errors.New("set only one of amount_sol and lamports")
		case req.AmountSOL != "":
			amount, err = lottery.ParseSOL(req.AmountSOL)
		case req.Lamports != "":
			amount, err = lottery.ParseLamports(req.Lamports)
		default:
			return solana.PublicKey{}, client.Intent{}, fmt.Errorf("%s requires an amount", op)
		}
		if err != nil {
			return solana.PublicKey{}, client.Intent{}, err
		}
		intent.Amount = amount
	}

	if op == lottery.OpSelectWinner {
		for _, raw := range req.Candidates {
			candidate, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw))
			if err != nil {
				return solana.PublicKey{}, client.Intent{}, fmt.Errorf("invalid candidate %q", raw)
			}
			intent.Candidates = append(intent.Candidates, candidate)
		}
	}
	return payer, intent, nil
}

// handlePrepareTransaction returns an unsigned transaction for the caller's
// wallet to sign and send.
func (s *Service) handlePrepareTransaction(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payer, intent, err := req.intent()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := s.client.Prepare(r.Context(), payer, intent)
	if err != nil {
		s.respondKindError(w, err, "failed to prepare transaction")
		return
	}
	encoded, err := tx.Base64()
	if err != nil {
		s.logger.Error("encode transaction failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to encode transaction")
		return
	}
	s.respondJSON(w, http.StatusOK, prepareResponse{
		Operation:   intent.Operation,
		FeePayer:    tx.FeePayer(),
		Transaction: encoded,
		Freshness:   tx.Freshness(),
	})
}

type submissionRequest struct {
	Signature string `json:"signature"`
	Operation string `json:"operation"`
	Wallet    string `json:"wallet"`
}

func (s *Service) handleRecordSubmission(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "submission log is disabled")
		return
	}
	var req submissionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(req.Signature))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	op, err := lottery.ParseOperation(req.Operation)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	wallet, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Wallet))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid wallet")
		return
	}

	now := s.clock.Now().Unix()
	sub := store.Submission{
		Signature: sig.String(),
		Operation: op.String(),
		Wallet:    wallet.String(),
		Outcome:   SubmissionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, err := s.store.RecordSubmission(r.Context(), sub)
	if err != nil {
		s.logger.Error("record submission failed", "signature", sub.Signature, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to record submission")
		return
	}
	s.respondJSON(w, http.StatusAccepted, stored)
}

func validSubmissionStatus(status string) bool {
	switch status {
	case SubmissionPending, SubmissionProcessing, SubmissionConfirmed, SubmissionRejected:
		return true
	default:
		return false
	}
}

func (s *Service) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "submission log is disabled")
		return
	}
	query := r.URL.Query()
	filter := store.SubmissionFilter{}

	if raw := strings.TrimSpace(query.Get("wallet")); raw != "" {
		wallet, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid wallet")
			return
		}
		filter.Wallet = wallet.String()
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		if !validSubmissionStatus(status) {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", status))
			return
		}
		filter.Outcome = status
	}
	var err error
	if filter.Limit, err = parseOptionalInt(r, "limit", 50); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = parseOptionalInt(r, "offset", 0); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, limit, offset, err := s.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		s.logger.Error("list submissions failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.Submission]{Items: items, Limit: limit, Offset: offset})
}

type programErrorResponse struct {
	Code    uint32 `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type submissionStatusResponse struct {
	Signature    string                `json:"signature"`
	Status       string                `json:"status"`
	Reason       string                `json:"reason,omitempty"`
	ProgramError *programErrorResponse `json:"program_error,omitempty"`
	Slot         uint64                `json:"slot,omitempty"`
	ExplorerURL  string                `json:"explorer_url"`
	Submission   *store.Submission     `json:"submission,omitempty"`
}

func submissionStatus(sig solana.Signature, status chain.ConfirmationStatus) submissionStatusResponse {
	out := submissionStatusResponse{Signature: sig.String(), Slot: status.Slot}
	switch {
	case status.Failure != nil:
		out.Status = SubmissionRejected
		out.Reason = status.Failure.String()
		if pe := status.Failure.ProgramError(); pe != nil {
			out.ProgramError = &programErrorResponse{Code: pe.Code, Name: pe.Name, Message: pe.Message}
		}
	case status.Confirmed:
		out.Status = SubmissionConfirmed
	case status.Found:
		out.Status = SubmissionProcessing
	default:
		out.Status = SubmissionPending
	}
	return out
}

// handleSubmissionStatus looks the signature up on the cluster and, when the
// submission log is enabled, records what it found.
func (s *Service) handleSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	sig, err := solana.SignatureFromBase58(chi.URLParam(r, "signature"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	status, err := s.confirmer.Confirm(r.Context(), sig)
	if err != nil {
		s.logger.Warn("signature status lookup failed", "signature", sig, "err", err)
		s.respondError(w, http.StatusBadGateway, "failed to look up signature status")
		return
	}

	out := submissionStatus(sig, status)
	out.ExplorerURL = lottery.ExplorerURL(sig, s.cfg.Client.ExplorerCluster)

	if s.store != nil {
		ctx := r.Context()
		err := s.store.UpdateSubmissionOutcome(ctx, out.Signature, out.Status, out.Reason, out.Slot, s.clock.Now().Unix())
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			s.logger.Error("update submission failed", "signature", sig, "err", err)
		default:
			sub, err := s.store.GetSubmission(ctx, out.Signature)
			if err == nil {
				out.Submission = &sub
			}
		}
	}
	s.respondJSON(w, http.StatusOK, out)
}
