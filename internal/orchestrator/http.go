package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
	"github.com/mkesani1/stockclerk-sub002/internal/metrics"
	"github.com/mkesani1/stockclerk-sub002/internal/tracing"
)

// Router mounts the shared webhook ingress (spec.md §4.1/§4.2) and the
// control surface spec.md §7 names as the Orchestrator's HTTP API:
// `POST /webhooks/{tenantId}/{kind}` accepts a vendor webhook for a
// known tenant and forwards it to that tenant's worker via IPC;
// `/tenants/{tenantId}/status`, `/tenants/{tenantId}/sync` and
// `/tenants/{tenantId}/reconcile` expose TenantStatus, TriggerSync and
// TriggerReconciliation, and `/status` exposes Status (Start and Stop
// have no HTTP route); `/metrics` exposes
// the Prometheus collectors registered in internal/metrics.
func (o *Orchestrator) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(tracing.Middleware)
	r.Post("/webhooks/{tenantId}/{kind}", o.handleWebhookHTTP)
	r.Get("/tenants/{tenantId}/status", o.handleTenantStatus)
	r.Post("/tenants/{tenantId}/sync", o.handleTriggerSync)
	r.Post("/tenants/{tenantId}/reconcile", o.handleTriggerReconciliation)
	r.Get("/status", o.handleStatus)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	return r
}

func (o *Orchestrator) handleWebhookHTTP(resp http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	kind := domain.ChannelKind(chi.URLParam(req, "kind"))
	if !kind.Valid() {
		metrics.WebhooksIngestedTotal.WithLabelValues(string(kind), "rejected_unknown_kind").Inc()
		writeJSON(resp, http.StatusBadRequest, map[string]any{"success": false, "reason": "unknown channel kind"})
		return
	}

	body, err := readBody(req)
	if err != nil {
		metrics.WebhooksIngestedTotal.WithLabelValues(string(kind), "rejected_unreadable_body").Inc()
		writeJSON(resp, http.StatusBadRequest, map[string]any{"success": false, "reason": "could not read body"})
		return
	}
	if !json.Valid(body) {
		metrics.WebhooksIngestedTotal.WithLabelValues(string(kind), "rejected_malformed_json").Inc()
		writeJSON(resp, http.StatusBadRequest, map[string]any{"success": false, "reason": "malformed json"})
		return
	}

	instanceID := req.Header.Get(fmt.Sprintf("X-%s-Instance-Id", headerCase(string(kind))))
	signature := req.Header.Get(fmt.Sprintf("X-%s-Signature", headerCase(string(kind))))

	// The Watcher pipeline's channel-resolution and signature-verification
	// steps run inside the owning tenant's own worker process, which holds
	// that tenant's provider and repository connections; this handler only
	// identifies and forwards. A send failure here (no such tenant, or its
	// worker is down) is swallowed with 200 per spec.md §4.2 step 2's
	// "unknown channel" policy, since from the vendor's perspective an
	// unroutable webhook looks identical to an unknown one.
	if err := o.EnqueueWebhook(tenantID, string(kind), instanceID, body, signature); err != nil {
		metrics.WebhooksIngestedTotal.WithLabelValues(string(kind), "swallowed_unroutable").Inc()
		writeJSON(resp, http.StatusOK, map[string]any{"success": false, "reason": "tenant not currently running"})
		return
	}

	metrics.WebhooksIngestedTotal.WithLabelValues(string(kind), "forwarded").Inc()
	writeJSON(resp, http.StatusOK, map[string]any{"success": true})
}

func (o *Orchestrator) handleTenantStatus(resp http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	state, ok := o.TenantStatus(tenantID)
	if !ok {
		writeJSON(resp, http.StatusNotFound, map[string]any{"error": "tenant not supervised"})
		return
	}
	writeJSON(resp, http.StatusOK, map[string]any{"tenantId": tenantID, "state": state})
}

func (o *Orchestrator) handleStatus(resp http.ResponseWriter, req *http.Request) {
	writeJSON(resp, http.StatusOK, o.Status())
}

type triggerSyncRequest struct {
	ChannelID string `json:"channelId"`
	Scope     string `json:"scope"`
	ProductID string `json:"productId,omitempty"`
}

func (o *Orchestrator) handleTriggerSync(resp http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	var body triggerSyncRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(resp, http.StatusBadRequest, map[string]any{"error": "malformed json"})
		return
	}
	if err := o.TriggerSync(tenantID, body.ChannelID, body.Scope, body.ProductID); err != nil {
		writeJSON(resp, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(resp, http.StatusAccepted, map[string]any{"accepted": true})
}

type triggerReconciliationRequest struct {
	AutoRepair bool `json:"autoRepair"`
}

func (o *Orchestrator) handleTriggerReconciliation(resp http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	var body triggerReconciliationRequest
	_ = json.NewDecoder(req.Body).Decode(&body)
	if err := o.TriggerReconciliation(tenantID, body.AutoRepair); err != nil {
		writeJSON(resp, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(resp, http.StatusAccepted, map[string]any{"accepted": true})
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, fmt.Errorf("empty body")
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func writeJSON(resp http.ResponseWriter, status int, payload any) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	_ = json.NewEncoder(resp).Encode(payload)
}

// headerCase title-cases a channel kind like "online_store" into the
// canonical header segment "Online-Store", matching watcher's own helper
// so both ingress paths extract the identical vendor-generic header name.
func headerCase(kind string) string {
	parts := strings.Split(kind, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}
