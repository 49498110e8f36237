package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/auth"
	"github.com/hermesgw/hermes/internal/catalog"
	"github.com/hermesgw/hermes/internal/store"
)

// registerAdminRoutes wires the provider CRUD, key, settings, cooldown,
// circuit-breaker, cache, and log-listing admin surface.
func (s *Server) registerAdminRoutes(r *router.Router) {
	r.GET("/admin/providers", s.withAuth(s.handleListProviders))
	r.POST("/admin/providers", s.withAuth(s.handleCreateProvider))
	r.PUT("/admin/providers/{id}", s.withAuth(s.handleUpdateProvider))
	r.DELETE("/admin/providers/{id}", s.withAuth(s.handleDeleteProvider))
	r.POST("/admin/providers/{id}/resync", s.withAuth(s.handleResyncProvider))
	r.GET("/admin/providers/export", s.withAuth(s.handleExportProviders))
	r.POST("/admin/providers/import", s.withAuth(s.handleImportProviders))

	r.GET("/admin/keys", s.withAuth(s.handleListKeys))
	r.POST("/admin/keys", s.withAuth(s.handleCreateKey))
	r.DELETE("/admin/keys/{id}", s.withAuth(s.handleDeleteKey))

	r.GET("/admin/settings/{key}", s.withAuth(s.handleGetSetting))
	r.PUT("/admin/settings/{key}", s.withAuth(s.handleSetSetting))

	r.GET("/admin/cooldowns", s.withAuth(s.handleListCooldowns))
	r.DELETE("/admin/cooldowns/{provider}/{model}", s.withAuth(s.handleClearCooldown))

	r.GET("/admin/circuit-breakers", s.withAuth(s.handleListBreakers))
	r.POST("/admin/circuit-breakers/{key}/reset", s.withAuth(s.handleResetBreaker))

	r.GET("/admin/cache/stats", s.withAuth(s.handleCacheStats))
	r.POST("/admin/cache/clear", s.withAuth(s.handleCacheClear))

	r.GET("/admin/logs/requests", s.withAuth(s.handleListRequestLogs))
	r.GET("/admin/logs/syncs", s.withAuth(s.handleListSyncLogs))
}

// adminError writes the admin API's failure envelope: {success:false,
// error:<message>}, HTTP 500.
func adminError(ctx *fasthttp.RequestCtx, err error) {
	writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func adminOK(ctx *fasthttp.RequestCtx, v any) {
	writeJSON(ctx, fasthttp.StatusOK, v)
}

// --- Provider CRUD ---

func (s *Server) handleListProviders(ctx *fasthttp.RequestCtx) {
	recs, err := s.catalog.List(ctx)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"providers": recs})
}

type createProviderRequest struct {
	Name           string   `json:"name"`
	BaseURL        string   `json:"baseUrl"`
	APIKey         string   `json:"apiKey"`
	ModelBlacklist []string `json:"modelBlacklist"`
}

func (s *Server) handleCreateProvider(ctx *fasthttp.RequestCtx) {
	var req createProviderRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		adminError(ctx, err)
		return
	}
	rec, err := s.catalog.Create(ctx, req.Name, req.BaseURL, req.APIKey, req.ModelBlacklist)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"success": true, "provider": rec})
}

func (s *Server) handleUpdateProvider(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	var req createProviderRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		adminError(ctx, err)
		return
	}
	if err := s.catalog.Update(ctx, id, req.BaseURL, req.APIKey, req.ModelBlacklist); err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"success": true})
}

func (s *Server) handleDeleteProvider(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if err := s.catalog.Delete(ctx, id); err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"success": true})
}

func (s *Server) handleResyncProvider(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	s.catalog.TriggerResync(ctx, id)
	adminOK(ctx, map[string]any{"success": true})
}

type exportEnvelope struct {
	ExportedAt int64                 `json:"exportedAt"`
	Providers  []catalog.ImportEntry `json:"providers"`
}

func (s *Server) handleExportProviders(ctx *fasthttp.RequestCtx) {
	recs, err := s.catalog.List(ctx)
	if err != nil {
		adminError(ctx, err)
		return
	}
	env := exportEnvelope{ExportedAt: time.Now().UnixMilli()}
	for _, r := range recs {
		env.Providers = append(env.Providers, catalog.ImportEntry{
			Name: r.Name, BaseURL: r.BaseURL, APIKey: r.APIKey, ModelBlacklist: r.ModelBlacklist,
		})
	}
	adminOK(ctx, env)
}

func (s *Server) handleImportProviders(ctx *fasthttp.RequestCtx) {
	var env exportEnvelope
	if err := json.Unmarshal(ctx.PostBody(), &env); err != nil {
		adminError(ctx, err)
		return
	}
	result, err := s.catalog.Import(ctx, env.Providers)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"success": true, "imported": result.Imported, "skipped": result.Skipped})
}

// --- Issued keys ---

func (s *Server) handleListKeys(ctx *fasthttp.RequestCtx) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"keys": keys})
}

type createKeyRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleCreateKey(ctx *fasthttp.RequestCtx) {
	var req createKeyRequest
	_ = json.Unmarshal(ctx.PostBody(), &req)

	raw, err := randomKey()
	if err != nil {
		adminError(ctx, err)
		return
	}
	rec := store.KeyRecord{
		ID:          uuid.New().String(),
		KeyHash:     auth.HashKey(raw),
		Description: req.Description,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertKey(ctx, rec); err != nil {
		adminError(ctx, err)
		return
	}
	// The raw key is only ever visible in this one response; only its
	// hash is persisted.
	adminOK(ctx, map[string]any{"success": true, "id": rec.ID, "key": raw})
}

func (s *Server) handleDeleteKey(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if err := s.store.DeleteKey(ctx, id); err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"success": true})
}

func randomKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sk-hermes-" + hex.EncodeToString(buf), nil
}

// --- Settings ---

func (s *Server) handleGetSetting(ctx *fasthttp.RequestCtx) {
	key, _ := ctx.UserValue("key").(string)
	value, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"key": key, "value": value, "found": ok})
}

type setSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetSetting(ctx *fasthttp.RequestCtx) {
	key, _ := ctx.UserValue("key").(string)
	var req setSettingRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		adminError(ctx, err)
		return
	}
	if err := s.store.SetSetting(ctx, key, req.Value); err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"success": true})
}

// --- Cooldowns ---

func (s *Server) handleListCooldowns(ctx *fasthttp.RequestCtx) {
	adminOK(ctx, map[string]any{"cooldowns": s.cooldown.All()})
}

func (s *Server) handleClearCooldown(ctx *fasthttp.RequestCtx) {
	providerID, _ := ctx.UserValue("provider").(string)
	model, _ := ctx.UserValue("model").(string)
	s.cooldown.Clear(providerID, model)
	adminOK(ctx, map[string]any{"success": true})
}

// --- Circuit breakers ---

func (s *Server) handleListBreakers(ctx *fasthttp.RequestCtx) {
	all := s.breaker.All()
	out := make(map[string]map[string]any, len(all))
	for key, st := range all {
		out[key] = map[string]any{
			"state":             st.State.String(),
			"failure_count":     st.FailureCount,
			"success_count":     st.SuccessCount,
			"last_failure_time": st.LastFailureTime,
			"opened_at":         st.OpenedAt,
		}
	}
	adminOK(ctx, map[string]any{"breakers": out})
}

func (s *Server) handleResetBreaker(ctx *fasthttp.RequestCtx) {
	key, _ := ctx.UserValue("key").(string)
	s.breaker.Reset(key)
	adminOK(ctx, map[string]any{"success": true})
}

// --- Cache ---

func (s *Server) handleCacheStats(ctx *fasthttp.RequestCtx) {
	stats := s.cache.Stats()
	adminOK(ctx, map[string]any{
		"size": stats.Size, "max_size": stats.MaxSize,
		"hits": stats.Hits, "misses": stats.Misses, "hit_rate": stats.HitRate(),
	})
}

func (s *Server) handleCacheClear(ctx *fasthttp.RequestCtx) {
	s.cache.Clear()
	adminOK(ctx, map[string]any{"success": true})
}

// --- Logs ---

func (s *Server) handleListRequestLogs(ctx *fasthttp.RequestCtx) {
	f := store.LogFilter{
		Method: string(ctx.QueryArgs().Peek("method")),
		Path:   string(ctx.QueryArgs().Peek("path")),
		Model:  string(ctx.QueryArgs().Peek("model")),
		Limit:  ctx.QueryArgs().GetUintOrZero("limit"),
		Offset: ctx.QueryArgs().GetUintOrZero("offset"),
	}
	if raw := ctx.QueryArgs().Peek("status"); len(raw) > 0 {
		if n, err := strconv.Atoi(string(raw)); err == nil {
			f.Status = &n
		}
	}
	rows, err := s.store.ListRequestLogs(ctx, f)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"logs": rows})
}

func (s *Server) handleListSyncLogs(ctx *fasthttp.RequestCtx) {
	f := store.LogFilter{
		ProviderName: string(ctx.QueryArgs().Peek("provider")),
		Model:        string(ctx.QueryArgs().Peek("model")),
		Result:       string(ctx.QueryArgs().Peek("result")),
		Limit:        ctx.QueryArgs().GetUintOrZero("limit"),
		Offset:       ctx.QueryArgs().GetUintOrZero("offset"),
	}
	rows, err := s.store.ListSyncLogs(ctx, f)
	if err != nil {
		adminError(ctx, err)
		return
	}
	adminOK(ctx, map[string]any{"logs": rows})
}
