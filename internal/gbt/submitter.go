package gbt

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/arejula27/cuda-work-coordinator/internal/bitcoinrpc"
	"github.com/arejula27/cuda-work-coordinator/pkg/util"
)

// ErrNoCoinbase is returned when a block is ready to submit but no
// coinbase transaction was ever recorded for the active template.
var ErrNoCoinbase = fmt.Errorf("gbt: no coinbase available for submission")

// Submitter assembles a full block from a verified header and the
// template's coinbase/transaction hex, then relays it via submitblock.
type Submitter struct {
	client  bitcoinrpc.Client
	adapter *Adapter
}

// NewSubmitter constructs a Submitter that reads template parts from
// adapter and relays blocks through client.
func NewSubmitter(client bitcoinrpc.Client, adapter *Adapter) *Submitter {
	return &Submitter{client: client, adapter: adapter}
}

// SubmitBlock assembles header80 ∥ varint(tx_count) ∥ coinbase ∥ txs as hex
// and calls submitblock.
func (s *Submitter) SubmitBlock(ctx context.Context, header80 [80]byte) error {
	blockHex, err := s.buildBlockHex(header80)
	if err != nil {
		return err
	}
	return s.client.SubmitBlock(ctx, blockHex)
}

func (s *Submitter) buildBlockHex(header80 [80]byte) (string, error) {
	coinbaseHex, hasCoinbase, txHex := s.adapter.templateParts()
	if !hasCoinbase {
		return "", ErrNoCoinbase
	}

	txCount := uint64(len(txHex)) + 1

	out := hex.EncodeToString(header80[:])
	out += hex.EncodeToString(util.WriteVarInt(txCount))
	out += coinbaseHex
	for _, tx := range txHex {
		out += tx
	}
	return out, nil
}
