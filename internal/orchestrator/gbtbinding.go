package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/bitcoinrpc"
	"github.com/arejula27/cuda-work-coordinator/internal/gbt"
	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
)

// GBTBinding owns one getblocktemplate polling loop and its block
// submitter. Unlike a Stratum pool, a GBT source has no endpoint list to
// rotate through and no share concept: every accepted candidate is either
// a block or it is discarded.
type GBTBinding struct {
	adapter   *gbt.Adapter
	submitter *gbt.Submitter
	runner    *gbt.Runner
}

// NewGBTBinding constructs a GBTBinding and starts its poll loop on ctx.
func NewGBTBinding(ctx context.Context, sourceID int, client bitcoinrpc.Client, policy gbt.Policy, rules []string, interval time.Duration, logger *zap.Logger) *GBTBinding {
	adapter := gbt.NewAdapter(sourceID, policy)
	runner := gbt.NewRunner(client, adapter, rules, interval, logger)
	submitter := gbt.NewSubmitter(client, adapter)
	go runner.Run(ctx)
	return &GBTBinding{adapter: adapter, submitter: submitter, runner: runner}
}

// PollNormalized drains the adapter's queue, satisfying the orchestrator's
// generic source interface.
func (b *GBTBinding) PollNormalized() []normalize.RawJobInputs {
	return b.adapter.PollNormalized()
}

// SubmitBlock relays a found block through the bound Bitcoin Core client.
func (b *GBTBinding) SubmitBlock(ctx context.Context, header80 [80]byte) error {
	return b.submitter.SubmitBlock(ctx, header80)
}
