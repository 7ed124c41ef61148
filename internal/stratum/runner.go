package stratum

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
	"github.com/arejula27/cuda-work-coordinator/internal/primitives"
)

const (
	readTimeout    = 5 * time.Second
	maxBackoff     = 30 * time.Second
	quickDisconnect = 10 * time.Second
)

// Endpoint is one Stratum server a Runner can connect to.
type Endpoint struct {
	Host   string
	Port   int
	UseTLS bool
}

func (e Endpoint) addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// AcceptedCallback is invoked when a mining.submit reply reports success,
// with the (work_id, nonce) pair recorded at submission time.
type AcceptedCallback func(workID uint64, nonce uint32)

// Runner owns one upstream Stratum connection and its reconnect policy. It
// drives the adapter's state machine and feeds normalized jobs into its
// queue.
type Runner struct {
	endpoint Endpoint
	username string
	password string

	adapter *Adapter
	logger  *zap.Logger

	stop atomic.Bool

	mu             sync.Mutex
	codec          *Codec
	lastJobID      string
	pendingWorkID  uint64
	pendingNonce   uint32
	connectedAt    time.Time

	consecutiveConnectFailures atomic.Int64
	consecutiveQuickDisconnects atomic.Int64
	accepted                   atomic.Int64
	rejected                   atomic.Int64

	onAccepted AcceptedCallback
}

// NewRunner constructs a Runner bound to one adapter and upstream endpoint.
func NewRunner(endpoint Endpoint, username, password string, adapter *Adapter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		endpoint: endpoint,
		username: username,
		password: password,
		adapter:  adapter,
		logger:   logger,
	}
}

// SetAcceptedCallback registers the callback invoked on a successful
// mining.submit reply.
func (r *Runner) SetAcceptedCallback(cb AcceptedCallback) {
	r.onAccepted = cb
}

// Stop requests the run loop to exit at its next poll point.
func (r *Runner) Stop() {
	r.stop.Store(true)
}

// ConnectFailures reports the number of consecutive failed connection
// attempts, used by the orchestrator's endpoint-rotation policy.
func (r *Runner) ConnectFailures() int64 { return r.consecutiveConnectFailures.Load() }

// QuickDisconnects reports the number of consecutive sessions that lasted
// under the quick-disconnect threshold.
func (r *Runner) QuickDisconnects() int64 { return r.consecutiveQuickDisconnects.Load() }

// Accepted/Rejected report cumulative submit outcome counters.
func (r *Runner) Accepted() int64 { return r.accepted.Load() }
func (r *Runner) Rejected() int64 { return r.rejected.Load() }

// ResetCounters clears the failure/disconnect counters. Endpoint rotation
// does not use it: it replaces the Runner with a fresh one.
func (r *Runner) ResetCounters() {
	r.consecutiveConnectFailures.Store(0)
	r.consecutiveQuickDisconnects.Store(0)
}

// Run drives the connect/session/reconnect loop until Stop is called. It
// blocks and is meant to run on its own goroutine.
func (r *Runner) Run(ctx context.Context) {
	attempt := 0
	for !r.stop.Load() {
		if ctx.Err() != nil {
			return
		}

		r.adapter.setState(Connecting)
		conn, err := r.dial(ctx)
		if err != nil {
			r.logger.Warn("stratum connect failed",
				zap.String("endpoint", r.endpoint.addr()), zap.Error(err))
			r.consecutiveConnectFailures.Add(1)
			r.adapter.setState(Disconnected)
			r.sleepBackoff(ctx, attempt)
			attempt++
			continue
		}
		r.consecutiveConnectFailures.Store(0)
		attempt = 0

		r.mu.Lock()
		r.codec = NewCodec(conn)
		r.connectedAt = time.Now()
		r.mu.Unlock()

		r.runSession(ctx)

		if time.Since(r.connectedAt) < quickDisconnect {
			r.consecutiveQuickDisconnects.Add(1)
		} else {
			r.consecutiveQuickDisconnects.Store(0)
		}
		r.adapter.setState(Disconnected)
	}
}

func (r *Runner) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: readTimeout}
	if r.endpoint.UseTLS {
		return tls.DialWithDialer(dialer, "tcp", r.endpoint.addr(), &tls.Config{})
	}
	return dialer.DialContext(ctx, "tcp", r.endpoint.addr())
}

func (r *Runner) sleepBackoff(ctx context.Context, attempt int) {
	shift := attempt
	if shift > 4 {
		shift = 4
	}
	backoff := time.Duration(1<<uint(shift)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
	}
}

// runSession handles one connected Stratum session: subscribe, authorize,
// configure, then read-dispatch until EOF/error/stop.
func (r *Runner) runSession(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		if r.codec != nil {
			r.codec.Close()
			r.codec = nil
		}
		r.mu.Unlock()
	}()

	if err := r.send(&Request{ID: 1, Method: "mining.subscribe", Params: rawParams("coordinator/1.0")}); err != nil {
		r.logger.Warn("subscribe send failed", zap.Error(err))
		return
	}
	if err := r.send(&Request{ID: 2, Method: "mining.authorize", Params: rawParams(r.username, r.password)}); err != nil {
		r.logger.Warn("authorize send failed", zap.Error(err))
		return
	}
	if err := r.send(&Request{ID: 100, Method: "mining.configure",
		Params: rawParams([]string{"version-rolling"}, map[string]string{"version-rolling.mask": "ffffffff"})}); err != nil {
		r.logger.Warn("configure send failed", zap.Error(err))
		return
	}

	for !r.stop.Load() && ctx.Err() == nil {
		req, err := r.readWithTimeout()
		if err != nil {
			r.logger.Info("stratum session ended", zap.Error(err))
			return
		}
		r.dispatch(*req)
	}
}

func (r *Runner) readWithTimeout() (*Request, error) {
	r.mu.Lock()
	codec := r.codec
	r.mu.Unlock()
	if codec == nil {
		return nil, fmt.Errorf("no active connection")
	}
	return codec.ReadRequest()
}

func (r *Runner) send(req *Request) error {
	r.mu.Lock()
	codec := r.codec
	r.mu.Unlock()
	if codec == nil {
		return fmt.Errorf("no active connection")
	}
	return codec.SendRequest(req)
}

// dispatch routes one inbound line by id (responses to our requests) or
// method (server notifications), per spec §4.4.1's state table.
func (r *Runner) dispatch(msg Request) {
	switch id := msg.ID.(type) {
	case float64:
		r.dispatchByID(int(id), msg)
		return
	}

	switch msg.Method {
	case "mining.set_difficulty":
		var params []float64
		if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) < 1 {
			return
		}
		nbits := CompactFromDifficulty(params[0])
		r.adapter.setShareNbits(nbits)

	case "mining.notify":
		r.handleNotify(msg.Params)
	}
}

func (r *Runner) dispatchByID(id int, msg Request) {
	switch id {
	case 1:
		r.handleSubscribeReply(msg)
	case 2:
		r.adapter.setAuthorized()
	case 100:
		r.handleConfigureReply(msg)
	case 3:
		r.handleSubmitReply(msg)
	}
}

func (r *Runner) handleSubscribeReply(msg Request) {
	var result []json.RawMessage
	if err := json.Unmarshal(msg.Result, &result); err != nil || len(result) < 3 {
		return
	}
	var extranonce1Hex string
	var extranonce2Size int
	json.Unmarshal(result[1], &extranonce1Hex)
	json.Unmarshal(result[2], &extranonce2Size)

	extranonce1, _ := hex.DecodeString(extranonce1Hex)
	r.adapter.setSubscribed(extranonce1, extranonce2Size)
}

func (r *Runner) handleConfigureReply(msg Request) {
	var result map[string]interface{}
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return
	}
	maskHex, _ := result["version-rolling.mask"].(string)
	if maskHex == "" {
		return
	}
	maskBytes, err := hex.DecodeString(maskHex)
	if err != nil || len(maskBytes) != 4 {
		return
	}
	r.adapter.setVersionMask(binary.BigEndian.Uint32(maskBytes))
}

func (r *Runner) handleSubmitReply(msg Request) {
	var result bool
	if err := json.Unmarshal(msg.Result, &result); err == nil {
		if result {
			r.accepted.Add(1)
			r.mu.Lock()
			workID, nonce := r.pendingWorkID, r.pendingNonce
			r.mu.Unlock()
			if r.onAccepted != nil {
				r.onAccepted(workID, nonce)
			}
			return
		}
	}
	r.rejected.Add(1)
}

// handleNotify parses a mining.notify per the spec §6.1 authoritative
// 9-parameter layout: [job_id, prevhash_hex, coinb1_hex, coinb2_hex,
// merkle_branch[], version_hex, nbits_hex, ntime_hex, clean_jobs_bool].
func (r *Runner) handleNotify(raw json.RawMessage) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil || len(params) < 9 {
		return
	}

	var jobID, prevHashHex, coinb1Hex, coinb2Hex, versionHex, nbitsHex, ntimeHex string
	var merkleBranchHex []string
	var cleanJobs bool

	json.Unmarshal(params[0], &jobID)
	json.Unmarshal(params[1], &prevHashHex)
	json.Unmarshal(params[2], &coinb1Hex)
	json.Unmarshal(params[3], &coinb2Hex)
	json.Unmarshal(params[4], &merkleBranchHex)
	json.Unmarshal(params[5], &versionHex)
	json.Unmarshal(params[6], &nbitsHex)
	json.Unmarshal(params[7], &ntimeHex)
	json.Unmarshal(params[8], &cleanJobs)

	prevHashBE, err := decodeHex32(prevHashHex)
	if err != nil {
		r.logger.Warn("notify: malformed prevhash", zap.Error(err))
		return
	}
	version, err := decodeHex32u(versionHex)
	if err != nil {
		return
	}
	nbits, err := decodeHex32u(nbitsHex)
	if err != nil {
		return
	}
	ntime, err := decodeHex32u(ntimeHex)
	if err != nil {
		return
	}

	coinb1, err := hex.DecodeString(coinb1Hex)
	if err != nil {
		return
	}
	coinb2, err := hex.DecodeString(coinb2Hex)
	if err != nil {
		return
	}
	branch := make([][32]byte, 0, len(merkleBranchHex))
	for _, h := range merkleBranchHex {
		b, err := decodeHex32(h)
		if err != nil {
			return
		}
		branch = append(branch, b)
	}

	extranonce1 := r.adapter.extranonce1Current()
	extranonce2Size := r.adapter.extranonce2SizeCurrent()
	extranonce2 := make([]byte, extranonce2Size)

	coinbase := normalize.AssembleCoinbase(normalize.CoinbaseParts{Prefix: coinb1, Suffix: coinb2}, extranonce1, extranonce2)
	coinbaseTxid := primitives.Sha256d(coinbase)
	merkleRootBE := primitives.ApplyMerkleBranch(coinbaseTxid, branch)

	r.mu.Lock()
	r.lastJobID = jobID
	r.mu.Unlock()

	effectiveClean := cleanJobs
	if r.adapter.policy.ForceCleanJobs {
		effectiveClean = true
	}

	var vmask uint32
	r.adapter.mu.Lock()
	vmask = r.adapter.vmask
	r.adapter.lastJobBase = version
	shareNbits := r.adapter.shareNbits
	ntimeMin, ntimeMax := r.adapter.policy.NtimeMin, r.adapter.policy.NtimeMax
	r.adapter.mu.Unlock()

	workID := workIDFor(r.adapter.sourceID, jobID)

	raw2 := normalize.RawJobInputs{
		SourceID:        r.adapter.sourceID,
		WorkID:          workID,
		Version:         version,
		Nbits:           nbits,
		Ntime:           ntime,
		ShareNbits:      shareNbits,
		PrevHashBE:      prevHashBE,
		MerkleRootBE:    merkleRootBE,
		Extranonce2Size: extranonce2Size,
		CleanJobs:       effectiveClean,
		VMask:           vmask,
		NtimeMin:        ntimeMin,
		NtimeMax:        ntimeMax,
	}
	raw2.HeaderFirst64 = normalize.BuildHeaderFirst64(version, prevHashBE, merkleRootBE)

	r.adapter.enqueue(raw2)
}

// Submit sends mining.submit for a produced solution and records the
// pending (work_id, nonce) pair so a subsequent id=3 reply can be
// attributed. ntime and nonce are big-endian 4-byte values per spec §4.4.1.
func (r *Runner) Submit(workID uint64, nonce uint32, extranonce2 []byte, ntime uint32) error {
	r.mu.Lock()
	jobID := r.lastJobID
	r.pendingWorkID = workID
	r.pendingNonce = nonce
	r.mu.Unlock()

	var ntimeBuf, nonceBuf [4]byte
	binary.BigEndian.PutUint32(ntimeBuf[:], ntime)
	binary.BigEndian.PutUint32(nonceBuf[:], nonce)

	return r.send(&Request{ID: 3, Method: "mining.submit", Params: rawParams(
		r.username, jobID, hex.EncodeToString(extranonce2), hex.EncodeToString(ntimeBuf[:]), hex.EncodeToString(nonceBuf[:]),
	)})
}

func workIDFor(sourceID int, jobID string) uint64 {
	h := fnv.New64a()
	var sourceBuf [8]byte
	binary.BigEndian.PutUint64(sourceBuf[:], uint64(sourceID))
	h.Write(sourceBuf[:])
	h.Write([]byte(jobID))
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

func decodeHex32u(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("expected 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func rawParams(vals ...interface{}) json.RawMessage {
	b, _ := json.Marshal(vals)
	return b
}
