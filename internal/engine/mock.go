package engine

// MockEngine is a deterministic stand-in for the real device kernel, used
// in tests and in CUDA-less builds. It never reports a hit unless told to.
type MockEngine struct {
	// ScriptedHits are returned on the next Launch call matching the
	// given work_id, then cleared.
	ScriptedHits map[uint64][]Hit
	Calls        []Batch
}

// NewMockEngine constructs an empty MockEngine.
func NewMockEngine() *MockEngine {
	return &MockEngine{ScriptedHits: make(map[uint64][]Hit)}
}

// Launch records the batch and returns any scripted hits for the jobs
// present in it.
func (m *MockEngine) Launch(batch Batch) ([]Hit, error) {
	m.Calls = append(m.Calls, batch)
	var out []Hit
	for _, job := range batch.Jobs {
		if hits, ok := m.ScriptedHits[job.WorkID]; ok {
			out = append(out, hits...)
			delete(m.ScriptedHits, job.WorkID)
		}
	}
	return out, nil
}
