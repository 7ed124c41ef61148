package stratum

import (
	"sync"

	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
)

// State is the Stratum session state machine (spec §4.4.1, §4.11).
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Authorized
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Policy configures how raw mining.notify jobs are turned into
// RawJobInputs before normalization.
type Policy struct {
	ForceCleanJobs   bool
	CleanJobsDefault bool
	VersionMask      uint32 // 0 => use the negotiated mining.configure mask
	NtimeMin         uint32
	NtimeMax         uint32
	ShareNbitsFloor  uint32 // used before the first set_difficulty arrives
}

// Adapter holds one Stratum session's negotiated parameters and the
// normalized-job queue the orchestrator drains. All fields are
// mutex-guarded; only the owning Runner writes, the orchestrator and
// submitter read.
type Adapter struct {
	mu sync.Mutex

	sourceID int
	policy   Policy

	state           State
	extranonce1     []byte
	extranonce2Size int
	vmask           uint32
	shareNbits      uint32
	lastJobBase     uint32 // upstream base version of the most recent notify, for clamp_version

	queue []normalize.RawJobInputs
}

// NewAdapter constructs an Adapter bound to sourceID with the given policy.
func NewAdapter(sourceID int, policy Policy) *Adapter {
	return &Adapter{
		sourceID:        sourceID,
		policy:          policy,
		state:           Disconnected,
		shareNbits:      policy.ShareNbitsFloor,
		vmask:           policy.VersionMask,
		extranonce2Size: 4,
	}
}

// State returns the current session state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Adapter) setSubscribed(extranonce1 []byte, extranonce2Size int) {
	a.mu.Lock()
	a.extranonce1 = extranonce1
	a.extranonce2Size = extranonce2Size
	a.state = Subscribed
	a.mu.Unlock()
}

func (a *Adapter) setAuthorized() {
	a.setState(Authorized)
}

func (a *Adapter) setVersionMask(mask uint32) {
	a.mu.Lock()
	if a.policy.VersionMask == 0 {
		a.vmask = mask
	}
	a.mu.Unlock()
}

func (a *Adapter) setShareNbits(nbits uint32) {
	a.mu.Lock()
	a.shareNbits = nbits
	a.mu.Unlock()
}

func (a *Adapter) extranonce2SizeCurrent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.extranonce2Size
}

func (a *Adapter) extranonce1Current() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, len(a.extranonce1))
	copy(out, a.extranonce1)
	return out
}

// enqueue pushes a normalized job's raw inputs onto the adapter's queue.
func (a *Adapter) enqueue(raw normalize.RawJobInputs) {
	a.mu.Lock()
	a.queue = append(a.queue, raw)
	a.mu.Unlock()
}

// PollNormalized drains and returns every RawJobInputs accumulated since
// the last call.
func (a *Adapter) PollNormalized() []normalize.RawJobInputs {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.queue
	a.queue = nil
	return out
}

// SourceID returns the adapter's configured source identity.
func (a *Adapter) SourceID() int {
	return a.sourceID
}
