package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"reviewgate/internal/attest"
	"reviewgate/internal/contract"
	"reviewgate/internal/decision"
	"reviewgate/internal/faults"
	"reviewgate/internal/hosting"
	"reviewgate/internal/idempotency"
	"reviewgate/internal/metrics"
	"reviewgate/internal/pipeline"
	"reviewgate/internal/review"
	"reviewgate/internal/semaphore"
)

func TestMain(m *testing.M) {
	// The genai client starts an opencensus stats worker at package init.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const testSecret = "wh-secret"

type stubDiff struct{ files []hosting.DiffFile }

func (s *stubDiff) FetchDiff(context.Context, hosting.EventContext) ([]hosting.DiffFile, error) {
	return s.files, nil
}

type stubComments struct{}

func (stubComments) PublishComment(context.Context, hosting.EventContext, string) error {
	return nil
}

type stubProvider struct{ reply string }

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Complete(context.Context, string, string) (string, error) {
	return s.reply, nil
}

type fixture struct {
	srv     *Server
	history decision.History
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := faults.Disabled()
	logger := zap.NewNop()
	pipeSem := semaphore.NewLocal(10, fc, logger)
	llmSem := semaphore.NewLocal(3, fc, logger)
	m := metrics.New(fc, logger)
	history := decision.NewLocalHistory(100)

	pipe := pipeline.New(pipeline.Deps{
		Guard:       idempotency.NewLocalGuard(0, 0),
		PipelineSem: pipeSem,
		LLMSem:      llmSem,
		Faults:      fc,
		Contract:    contract.Build(contract.ActiveVersion),
		History:     history,
		Ledger:      attest.NewLedger(),
		Metrics:     m,
		Diff:        &stubDiff{files: []hosting.DiffFile{{Path: "README.md", Status: "modified", Additions: 1, Patch: "@@ -1 +1 @@\n+doc"}}},
		Comments:    stubComments{},
		Reviewer:    review.NewGenerator(&stubProvider{reply: "{}"}, llmSem, fc, logger),
		Logger:      logger,
	})
	deps := func() metrics.Deps {
		return metrics.Deps{Pipeline: pipeSem, LLM: llmSem, Guard: idempotency.NewLocalGuard(0, 0)}
	}
	srv, err := New(Options{
		WebhookSecret: testSecret,
		Pipeline:      pipe,
		History:       history,
		Index:         attest.NewIndex(history),
		Metrics:       m,
		MetricsDeps:   deps,
		Logger:        logger,
	})
	require.NoError(t, err)
	return &fixture{srv: srv, history: history}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(action string) []byte {
	return []byte(`{
		"action": "` + action + `",
		"pull_request": {"number": 7, "head": {"sha": "deadbeef"}},
		"repository": {"name": "payments", "owner": {"login": "acme"}},
		"installation": {"id": 11}
	}`)
}

// postWebhook sends a signed delivery and waits for the resulting execution.
func (f *fixture) postWebhook(t *testing.T, deliveryID string) map[string]any {
	t.Helper()
	body := webhookBody("opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sign(body))
	req.Header.Set("X-Event", "pull_request")
	req.Header.Set("X-Delivery", deliveryID)
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	f.srv.wg.Wait()
	return decodeBody(t, w)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	return w, decodeBody(t, w)
}

func TestWebhookAccepted(t *testing.T) {
	f := newFixture(t)
	out := f.postWebhook(t, "delivery-1")

	require.Equal(t, "accepted", out["message"])
	require.NotEmpty(t, out["review_id"])
	require.NotEmpty(t, out["idempotency_key"])

	rec := f.history.Find(context.Background(), out["review_id"].(string))
	require.NotNil(t, rec, "execution should have recorded a decision")
	require.Equal(t, decision.PathSilentExitSafe, rec.DecisionPath)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(bytes.Repeat([]byte{0xab}, 32)))
	req.Header.Set("X-Event", "pull_request")
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, 0, f.history.Len(context.Background()))
}

func TestWebhookRejectsMissingPrefix(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	req.Header.Set("X-Signature-256", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-Event", "pull_request")
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sign(body))
	req.Header.Set("X-Event", "push")
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	out := decodeBody(t, w)
	require.Equal(t, "ignored", out["message"])
	require.Equal(t, 0, f.history.Len(context.Background()))
}

func TestWebhookIgnoresOtherActions(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("closed")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sign(body))
	req.Header.Set("X-Event", "pull_request")
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	out := decodeBody(t, w)
	require.Equal(t, "ignored", out["message"])
	require.Contains(t, out["reason"], "closed")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w, out := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["status"])
}

func TestDecisionsListing(t *testing.T) {
	f := newFixture(t)
	f.postWebhook(t, "delivery-a")
	f.postWebhook(t, "delivery-b")

	w, out := f.get(t, "/decisions")
	require.Equal(t, http.StatusOK, w.Code)
	meta := out["meta"].(map[string]any)
	require.EqualValues(t, 2, meta["count"])
	require.EqualValues(t, 50, meta["limit"])

	decisions := out["decisions"].([]any)
	require.Len(t, decisions, 2)
	first := decisions[0].(map[string]any)
	require.Equal(t, "acme/payments", first["repo_full_name"])
	require.Equal(t, decision.PathSilentExitSafe, first["decision_path"])
	require.Len(t, first["ledger_hash"], 64)
}

func TestDecisionsLimitValidation(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"0", "101", "nope"} {
		w, _ := f.get(t, "/decisions?limit="+raw)
		require.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", raw)
	}
	w, out := f.get(t, "/decisions?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 5, out["meta"].(map[string]any)["limit"])
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t)
	out := f.postWebhook(t, "delivery-v")
	reviewID := out["review_id"].(string)

	w, body := f.get(t, "/verify/"+reviewID)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["valid"])
	require.Equal(t, reviewID, body["review_id"])

	w, _ = f.get(t, "/verify/rev-unknown")
	require.Equal(t, http.StatusNotFound, w.Code)

	// Tamper with the stored record and watch verification fail.
	rec := f.history.Find(context.Background(), reviewID)
	rec.FinalState = "COMPLETED_SUCCESS"
	w, body = f.get(t, "/verify/"+reviewID)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, false, body["valid"])
	require.Contains(t, body["failures"], "execution_proof_hash")
}

func TestMerkleEndpoints(t *testing.T) {
	f := newFixture(t)

	w, _ := f.get(t, "/merkle/root")
	require.Equal(t, http.StatusNotFound, w.Code)

	out := f.postWebhook(t, "delivery-m1")
	f.postWebhook(t, "delivery-m2")
	reviewID := out["review_id"].(string)

	w, root := f.get(t, "/merkle/root")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, root["leaf_count"])
	require.Equal(t, attest.Algorithm, root["algorithm"])
	require.Len(t, root["root"], 64)

	w, proof := f.get(t, "/merkle/proof/"+reviewID)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, reviewID, proof["review_id"])
	require.Equal(t, root["root"], proof["root"])

	w, _ = f.get(t, "/merkle/proof/rev-unknown")
	require.Equal(t, http.StatusNotFound, w.Code)

	// Replay the proof through the stateless verifier.
	verifyReq := map[string]any{
		"leaf_hash": proof["execution_proof_hash"],
		"proof":     proof["proof"],
		"root":      proof["root"],
	}
	raw, err := json.Marshal(verifyReq)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/merkle/verify", bytes.NewReader(raw))
	w = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["valid"])

	// A wrong root is rejected with the recomputed value.
	verifyReq["root"] = "0000000000000000000000000000000000000000000000000000000000000000"
	raw, err = json.Marshal(verifyReq)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/merkle/verify", bytes.NewReader(raw))
	w = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, false, body["valid"])
	require.Equal(t, root["root"], body["recomputed_root"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.postWebhook(t, "delivery-x")

	w, out := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	counters := out["counters"].(map[string]any)
	require.EqualValues(t, 1, counters["webhooks_received"])
	store := out["shared_store"].(map[string]any)
	require.Equal(t, metrics.ModeSingleInstance, store["mode"])

	req := httptest.NewRequest(http.MethodGet, "/metrics/prom", nil)
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "reviewgate_decisions_total")
}
