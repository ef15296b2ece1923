package settlr

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/database"
	"github.com/settlr/settlr/insight"
	redis_db "github.com/settlr/settlr/internal/redis-db"
	"github.com/settlr/settlr/settlement"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Settlr wires the ledger store, the reconciliation queue and the
// external collaborators together. One instance serves both the HTTP
// surface and the queue workers.
type Settlr struct {
	queue      TaskQueue
	redis      redis.UniversalClient
	datasource database.IDataSource
	backend    settlement.Backend
	insight    insight.Provider
}

// NewSettlr initializes a Settlr instance from the active
// configuration. The settlement backend defaults to the JSON-RPC
// adapter pointed at the configured endpoint.
func NewSettlr(db database.IDataSource) (*Settlr, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	backend := settlement.NewRPCBackend(configuration.Settlement.Endpoint, configuration.Settlement.Network)

	var provider insight.Provider
	if configuration.Insight.Url != "" {
		provider = insight.NewHTTPProvider(configuration.Insight.Url, configuration.Insight.AuthToken, configuration.InsightTimeout())
	}

	return &Settlr{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		backend:    backend,
		insight:    provider,
	}, nil
}

// NewSettlrWithDeps builds a Settlr from explicit collaborators. Used
// where the ambient wiring of NewSettlr is unwanted, such as tests or
// embedding.
func NewSettlrWithDeps(db database.IDataSource, queue TaskQueue, backend settlement.Backend, provider insight.Provider) *Settlr {
	return &Settlr{
		datasource: db,
		queue:      queue,
		backend:    backend,
		insight:    provider,
	}
}

// Backend returns the configured settlement backend. Exposed for the
// CLI balance and funding commands.
func (s *Settlr) Backend() settlement.Backend {
	return s.backend
}
