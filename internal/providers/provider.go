// Package providers defines the wire-shape types shared between the
// proxy executor and the catalog sync worker. There is no per-vendor
// Provider interface or compiled-in alias map here: every provider is
// an admin-configured generic OpenAI-compatible HTTP endpoint, and its
// model catalog is discovered at runtime, not declared in code.
package providers

import "time"

// Status is the lifecycle state of a stored provider record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// Record is a stored provider.
type Record struct {
	ID             string
	Name           string
	BaseURL        string
	APIKey         string
	Models         []string
	ModelBlacklist []string
	Status         Status
	CreatedAt      time.Time
	LastSyncedAt   time.Time
	LastUsedAt     time.Time
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is a single token chunk delivered during a streaming
// response. Nothing in this module decodes chunks into it: the proxy
// executor relays the wire bytes verbatim.
type StreamChunk struct {
	Content      string
	FinishReason string
}

// Usage holds token counts reported by an upstream.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ArmKey identifies one (provider, model) pair for the router scorer
// and cooldown ledger.
func ArmKey(providerID, model string) string { return providerID + ":" + model }

// CircuitKey identifies a provider for the circuit breaker. Breaker
// state is per-provider, not per-(provider,model).
func CircuitKey(providerID string) string { return "provider:" + providerID }

// Default network timeouts shared across providers.
const (
	ProxyConnectTimeout = 5 * time.Second
	ProxyReadTimeout    = 120 * time.Second
	ProxyWriteTimeout   = 10 * time.Second
	ProxyPoolTimeout    = 5 * time.Second
	CatalogListTimeout  = 10 * time.Second
	CatalogProbeTimeout = 10 * time.Second
	CooldownProbeTimeout = 5 * time.Second
)
