package governance

import "github.com/pkg/errors"

// Error kinds that callers are expected to match with errors.Is. GroupNotFound is an
// expected condition (groups come and go between listing and describing them) and is
// handled as "no data" in batch flows. BrokerUnavailable covers network level failures
// and timeouts which the orchestration layer retries with backoff.
var (
	ErrGroupNotFound     = errors.New("consumer group not found")
	ErrBrokerUnavailable = errors.New("broker unavailable")
)
