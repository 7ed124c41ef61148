package gbt

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/bitcoinrpc"
	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
	"github.com/arejula27/cuda-work-coordinator/internal/primitives"
)

// defaultPollInterval matches the upstream implementation's polling cadence
// when the config does not set one explicitly.
const defaultPollInterval = 2 * time.Second

// errNoWork is returned by buildJob when a template has neither a
// coinbasetxn nor (with synthesis allowed) a default_witness_commitment to
// anchor a fabricated coinbase to. The caller treats this as "stay idle on
// this source", not a malformed-template warning (spec §7).
var errNoWork = errors.New("gbt: template has no coinbasetxn and no usable default_witness_commitment")

// Runner periodically polls a Bitcoin Core node for a new block template
// and feeds normalized jobs into its bound Adapter.
type Runner struct {
	client   bitcoinrpc.Client
	adapter  *Adapter
	rules    []string
	interval time.Duration
	logger   *zap.Logger

	lastPrevHash string
}

// NewRunner constructs a Runner polling client for templates on behalf of
// adapter. rules are the getblocktemplate "rules" array entries (e.g.
// "segwit"); a nil/empty slice defaults to ["segwit"].
func NewRunner(client bitcoinrpc.Client, adapter *Adapter, rules []string, interval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rules) == 0 {
		rules = []string{"segwit"}
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{client: client, adapter: adapter, rules: rules, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.pollOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	tmpl, err := r.client.GetBlockTemplate(ctx, r.rules)
	if err != nil {
		r.logger.Warn("getblocktemplate failed", zap.Error(err))
		return
	}
	if tmpl.PreviousBlockHash == r.lastPrevHash {
		return
	}
	r.lastPrevHash = tmpl.PreviousBlockHash

	raw, coinbaseHex, hasCoinbase, txHex, err := r.buildJob(tmpl)
	if errors.Is(err, errNoWork) {
		r.logger.Info("gbt source idle: no coinbase available for template", zap.String("prev_hash", tmpl.PreviousBlockHash))
		return
	}
	if err != nil {
		r.logger.Warn("gbt template malformed", zap.Error(err))
		return
	}

	r.adapter.setTemplateParts(coinbaseHex, hasCoinbase, txHex)
	r.adapter.enqueue(raw)
}

// buildJob turns a fetched BlockTemplate into RawJobInputs plus the
// coinbase/transaction hex the Submitter needs later. Unlike a naive port,
// this prefers the node's own "merkleroot" field (or computes one from the
// assembled coinbase and the template's transaction list) over the
// default_witness_commitment field, which is not a merkle root at all.
func (r *Runner) buildJob(tmpl *bitcoinrpc.BlockTemplate) (normalize.RawJobInputs, string, bool, []string, error) {
	prevHashBE, err := decodeHex32(tmpl.PreviousBlockHash)
	if err != nil {
		return normalize.RawJobInputs{}, "", false, nil, err
	}
	nbits, err := decodeCompactHex(tmpl.Bits)
	if err != nil {
		return normalize.RawJobInputs{}, "", false, nil, err
	}

	var coinbaseHex string
	hasCoinbase := tmpl.CoinbaseTxn != nil && tmpl.CoinbaseTxn.Data != ""
	if hasCoinbase {
		coinbaseHex = tmpl.CoinbaseTxn.Data
	} else {
		hasWitness := tmpl.DefaultWitnessCommitment != ""
		if !r.adapter.policy.AllowSynthCoinbase || !hasWitness {
			return normalize.RawJobInputs{}, "", false, nil, errNoWork
		}
		commitment, err := decodeHex32(tmpl.DefaultWitnessCommitment)
		if err != nil {
			return normalize.RawJobInputs{}, "", false, nil, err
		}
		parts := normalize.SynthesizeCoinbase(normalize.SynthesizedCoinbaseInput{
			Height:            uint64(tmpl.Height),
			PayoutScript:      r.adapter.policy.PayoutScript,
			WitnessCommitment: commitment,
			HasWitness:        hasWitness,
			CbTag:             r.adapter.policy.CbTag,
		})
		coinbase := normalize.AssembleCoinbase(parts, nil, nil)
		coinbaseHex = hex.EncodeToString(coinbase)
		hasCoinbase = true
	}

	txHex := make([]string, 0, len(tmpl.Transactions))
	for _, tx := range tmpl.Transactions {
		txHex = append(txHex, tx.Data)
	}

	merkleRootBE, err := r.resolveMerkleRoot(tmpl, coinbaseHex)
	if err != nil {
		return normalize.RawJobInputs{}, "", false, nil, err
	}

	version := uint32(tmpl.Version)
	shareNbits := r.adapter.policy.ShareNbits

	raw := normalize.RawJobInputs{
		SourceID:        r.adapter.sourceID,
		WorkID:          workIDFor(r.adapter.sourceID, tmpl.PreviousBlockHash),
		Version:         version,
		Nbits:           nbits,
		Ntime:           uint32(tmpl.CurTime),
		ShareNbits:      shareNbits,
		PrevHashBE:      prevHashBE,
		MerkleRootBE:    merkleRootBE,
		Extranonce2Size: 0,
		CleanJobs:       true,
		NtimeMin:        0,
		NtimeMax:        0xFFFFFFFF,
	}
	raw.HeaderFirst64 = normalize.BuildHeaderFirst64(version, prevHashBE, merkleRootBE)

	return raw, coinbaseHex, hasCoinbase, txHex, nil
}

// resolveMerkleRoot prefers the node-reported merkleroot field; absent
// that, it computes the real merkle root from the assembled coinbase
// transaction and the template's remaining transactions.
func (r *Runner) resolveMerkleRoot(tmpl *bitcoinrpc.BlockTemplate, coinbaseHex string) ([32]byte, error) {
	if tmpl.MerkleRoot != "" {
		return decodeHex32(tmpl.MerkleRoot)
	}

	coinbaseBytes, err := hex.DecodeString(coinbaseHex)
	if err != nil {
		return [32]byte{}, err
	}
	leaves := make([][32]byte, 0, 1+len(tmpl.Transactions))
	leaves = append(leaves, primitives.Sha256d(coinbaseBytes))
	for _, tx := range tmpl.Transactions {
		txBytes, err := hex.DecodeString(tx.Data)
		if err != nil {
			return [32]byte{}, err
		}
		leaves = append(leaves, primitives.Sha256d(txBytes))
	}
	return primitives.ComputeMerkleRootBE(leaves), nil
}

func workIDFor(sourceID int, prevHash string) uint64 {
	h := fnv.New64a()
	var sourceBuf [8]byte
	for i := range sourceBuf {
		sourceBuf[i] = byte(sourceID >> (8 * i))
	}
	h.Write(sourceBuf[:])
	h.Write([]byte(prevHash))
	return h.Sum64()
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeCompactHex(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	var out uint32
	for _, c := range b {
		out = out<<8 | uint32(c)
	}
	return out, nil
}
