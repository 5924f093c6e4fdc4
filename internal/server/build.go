package server

import (
	"fmt"

	"github.com/Sternrassler/copytrade-orders/pkg/aggregate"
	"github.com/Sternrassler/copytrade-orders/pkg/batch"
	"github.com/Sternrassler/copytrade-orders/pkg/client"
	"github.com/Sternrassler/copytrade-orders/pkg/completion"
	"github.com/Sternrassler/copytrade-orders/pkg/config"
	"github.com/Sternrassler/copytrade-orders/pkg/fingerprint"
	"github.com/Sternrassler/copytrade-orders/pkg/hoststatus"
	"github.com/Sternrassler/copytrade-orders/pkg/pagination"
)

// FromConfig assembles the fetch pipeline and the server. tracker may be nil.
func FromConfig(cfg *config.Config, tracker *hoststatus.Tracker) (*Server, error) {
	policy, err := aggregate.ParseSuccessPolicy(cfg.Batch.SuccessPolicy)
	if err != nil {
		return nil, err
	}

	upstream := client.DefaultConfig(cfg.Upstream.PrimaryBase, cfg.Upstream.ProxyBase)
	upstream.AttemptsPerHost = cfg.Upstream.AttemptsPerHost
	upstream.RetryDelay = cfg.Upstream.RetryDelay
	upstream.RetryJitter = cfg.Upstream.RetryJitter
	upstream.Timeout = cfg.Upstream.Timeout
	if !cfg.Upstream.Fingerprint {
		upstream.Fingerprints = fingerprint.None()
	}
	if tracker != nil {
		upstream.Observer = tracker
	}

	orchestrator, err := client.New(upstream)
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	walker := pagination.NewWalker(orchestrator, pagination.Config{
		PageCap:   cfg.Pagination.PageCap,
		PageSize:  cfg.Pagination.PageSize,
		PageDelay: cfg.Pagination.PageDelay,
	})
	walked := walker.Config()

	hostNames := make([]string, 0, len(orchestrator.Endpoints()))
	for _, ep := range orchestrator.Endpoints() {
		hostNames = append(hostNames, ep.Name)
	}

	opts := Options{
		APIKey:            cfg.Server.APIKey,
		RequestTimeout:    cfg.Server.RequestTimeout,
		DefaultUIDs:       cfg.Batch.UIDs(),
		DefaultLimit:      cfg.Batch.DefaultLimit,
		MaxPerCall:        cfg.Batch.MaxPerCall,
		PagesPerPortfolio: walked.PageCap,
		PageSize:          walked.PageSize,
		Policy:            policy,
		HostNames:         hostNames,
	}
	deps := Deps{
		Orders: batch.NewCoordinator(walker),
		Completion: completion.New(completion.Config{
			APIKey: cfg.Completion.APIKey,
			URL:    cfg.Completion.URL,
		}),
		Hosts: tracker,
	}
	return New(opts, deps), nil
}
