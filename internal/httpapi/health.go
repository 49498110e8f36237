package httpapi

import (
	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/providers"
)

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database struct {
		Connected bool `json:"connected"`
	} `json:"database"`
	CircuitBreaker struct {
		Total    int      `json:"total"`
		Open     int      `json:"open"`
		HalfOpen int      `json:"half_open"`
		OpenKeys []string `json:"open_keys"`
	} `json:"circuit_breaker"`
	Providers struct {
		Active int `json:"active"`
		Total  int `json:"total"`
	} `json:"providers"`
	Latency struct {
		P50 float64 `json:"p50"`
		P90 float64 `json:"p90"`
		P99 float64 `json:"p99"`
	} `json:"latency"`
	Cache struct {
		Hits    uint64  `json:"hits"`
		Misses  uint64  `json:"misses"`
		HitRate float64 `json:"hit_rate"`
		Size    int     `json:"size"`
		MaxSize int     `json:"max_size"`
	} `json:"cache"`
}

// handleHealth reports overall gateway health per the wire contract:
// degraded when any circuit is open or no providers are active,
// unhealthy when the database is unreachable.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	var resp healthResponse
	resp.Version = Version

	dbErr := s.store.Ping(ctx)
	resp.Database.Connected = dbErr == nil

	all := s.breaker.All()
	resp.CircuitBreaker.Total = len(all)
	for key, st := range all {
		switch st.State {
		case breaker.Open:
			resp.CircuitBreaker.Open++
			resp.CircuitBreaker.OpenKeys = append(resp.CircuitBreaker.OpenKeys, key)
		case breaker.HalfOpen:
			resp.CircuitBreaker.HalfOpen++
		}
	}

	recs, _ := s.catalog.List(ctx)
	resp.Providers.Total = len(recs)
	for _, r := range recs {
		if r.Status == providers.StatusActive {
			resp.Providers.Active++
		}
	}

	resp.Latency.P50, resp.Latency.P90, resp.Latency.P99 = s.latency.percentiles()

	cacheStats := s.cache.Stats()
	resp.Cache.Hits = cacheStats.Hits
	resp.Cache.Misses = cacheStats.Misses
	resp.Cache.HitRate = cacheStats.HitRate()
	resp.Cache.Size = cacheStats.Size
	resp.Cache.MaxSize = cacheStats.MaxSize

	switch {
	case dbErr != nil:
		resp.Status = "unhealthy"
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, resp)
		return
	case resp.CircuitBreaker.Open > 0 || resp.Providers.Active == 0:
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}
