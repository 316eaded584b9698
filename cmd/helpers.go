package cmd

import (
	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/engine"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/remote"
	"github.com/marcus/till/internal/store"
)

// openStore opens the local store with the configured capacity limit.
func openStore() (*store.Store, error) {
	s, err := store.Open(getBaseDir())
	if err != nil {
		return nil, err
	}
	if max := config.GetMaxBytes(); max > 0 {
		s.SetMaxBytes(max)
	}
	return s, nil
}

// queuePolicy builds the queue policy from configuration.
func queuePolicy() queue.Policy {
	return queue.Policy{
		RetryCap:    config.GetRetryCap(),
		BackoffBase: config.GetBackoffBase(),
		BackoffMax:  config.GetBackoffMax(),
		BatchQuota:  config.GetBatchQuota(),
	}
}

// enginePolicy builds the engine policy from configuration.
func enginePolicy() engine.Policy {
	return engine.Policy{
		BatchQuota:    config.GetBatchQuota(),
		SubmitTimeout: config.GetSubmitTimeout(),
	}
}

// newRemoteClient builds the remote authority client from configuration.
func newRemoteClient() *remote.Client {
	return remote.New(config.GetServerURL(), config.GetAPIKey(), config.GetSubmitTimeout())
}
