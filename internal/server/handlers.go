package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reviewgate/internal/attest"
	"reviewgate/internal/canonical"
	"reviewgate/internal/hosting"
	"reviewgate/internal/idempotency"
)

// admittedActions are the pull-request actions that start an execution.
var admittedActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
}

// webhookPayload is the subset of the hosting provider's event body we read.
type webhookPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "body too large"})
		return
	}

	if !s.validSignature(body, r.Header.Get("X-Signature-256")) {
		s.logger.Warn("webhook signature rejected", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid signature"})
		return
	}

	if event := r.Header.Get("X-Event"); event != "pull_request" {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message": "ignored", "reason": "unsupported event " + event,
		})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed payload"})
		return
	}
	if !admittedActions[payload.Action] {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message": "ignored", "reason": "unsupported action " + payload.Action,
		})
		return
	}

	event := hosting.WebhookEvent{
		DeliveryID: r.Header.Get("X-Delivery"),
		Action:     payload.Action,
		Event: hosting.EventContext{
			Owner:          payload.Repository.Owner.Login,
			Repo:           payload.Repository.Name,
			PRNumber:       payload.PullRequest.Number,
			InstallationID: payload.Installation.ID,
			HeadCommitID:   payload.PullRequest.Head.SHA,
		},
	}
	reviewID := s.opts.Pipeline.NewReviewID()
	key := idempotency.Key(event.DeliveryID, event.Event.Owner, event.Event.Repo,
		event.Event.PRNumber, event.Action, event.Event.HeadCommitID)

	// The sender gets its acknowledgment before processing starts.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":         "accepted",
		"review_id":       reviewID,
		"idempotency_key": key,
	})

	ctx := context.WithoutCancel(r.Context())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.opts.Pipeline.Process(ctx, reviewID, event)
	}()
}

// validSignature checks the hex HMAC-SHA256 of the raw body in constant time.
func (s *Server) validSignature(body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.opts.WebhookSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Metrics.Snapshot(s.opts.MetricsDeps()))
}

// decisionView is the list shape: owner/repo collapsed, hashes kept.
type decisionView struct {
	ReviewID           string  `json:"review_id"`
	Timestamp          string  `json:"timestamp"`
	RepoFullName       string  `json:"repo_full_name"`
	PRNumber           int     `json:"pr_number"`
	DecisionPath       string  `json:"decision_path"`
	FinalState         string  `json:"final_state"`
	Verdict            *string `json:"verdict"`
	CommentPosted      bool    `json:"comment_posted"`
	FormallyValid      bool    `json:"formally_valid"`
	ExecutionProofHash string  `json:"execution_proof_hash"`
	LedgerHash         string  `json:"ledger_hash"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be in 1..100"})
			return
		}
		limit = n
	}

	records := s.opts.History.Recent(r.Context(), limit)
	views := make([]decisionView, len(records))
	for i, rec := range records {
		views[i] = decisionView{
			ReviewID:           rec.ReviewID,
			Timestamp:          rec.Timestamp,
			RepoFullName:       rec.RepoFullName(),
			PRNumber:           rec.PRNumber,
			DecisionPath:       rec.DecisionPath,
			FinalState:         rec.FinalState,
			Verdict:            rec.Verdict,
			CommentPosted:      rec.CommentPosted,
			FormallyValid:      rec.FormallyValid,
			ExecutionProofHash: rec.ExecutionProofHash,
			LedgerHash:         rec.LedgerHash,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": views,
		"meta":      map[string]any{"count": len(views), "limit": limit},
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	rec := s.opts.History.Find(r.Context(), reviewID)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown review id"})
		return
	}

	if err := attest.VerifyRecord(rec); err != nil {
		var ve *attest.VerificationError
		failures := []string{err.Error()}
		if errors.As(err, &ve) {
			failures = ve.Diverged
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid":     false,
			"review_id": reviewID,
			"failures":  failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":                true,
		"review_id":            reviewID,
		"execution_proof_hash": rec.ExecutionProofHash,
		"ledger_hash":          rec.LedgerHash,
	})
}

func (s *Server) handleMerkleRoot(w http.ResponseWriter, r *http.Request) {
	root, count, err := s.opts.Index.Root(r.Context())
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no decisions recorded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"root":       root,
		"leaf_count": count,
		"algorithm":  attest.Algorithm,
	})
}

func (s *Server) handleMerkleProof(w http.ResponseWriter, r *http.Request) {
	proof, err := s.opts.Index.Proof(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

type merkleVerifyRequest struct {
	LeafHash string                `json:"leaf_hash"`
	Proof    []canonical.ProofStep `json:"proof"`
	Root     string                `json:"root"`
}

func (s *Server) handleMerkleVerify(w http.ResponseWriter, r *http.Request) {
	var req merkleVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request"})
		return
	}
	recomputed, err := canonical.RecomputeRoot(req.LeafHash, req.Proof)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if recomputed != req.Root {
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid":           false,
			"recomputed_root": recomputed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":           true,
		"recomputed_root": recomputed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
