package bitcoinrpc

import (
	"context"
	"strings"
	"sync"
)

// MockClient implements Client for tests.
type MockClient struct {
	mu sync.Mutex

	Template        *BlockTemplate
	SubmittedBlocks []string

	GetBlockTemplateErr error
	SubmitBlockErr      error
}

// NewMockClient returns a MockClient seeded with a plausible template.
func NewMockClient() *MockClient {
	return &MockClient{
		Template: &BlockTemplate{
			Version:           0x20000000,
			PreviousBlockHash: strings.Repeat("00", 32),
			Transactions:      nil,
			CurTime:           1700000000,
			Bits:              "1d00ffff",
			Height:            800000,
		},
	}
}

func (m *MockClient) GetBlockTemplate(_ context.Context, _ []string) (*BlockTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBlockTemplateErr != nil {
		return nil, m.GetBlockTemplateErr
	}
	return m.Template, nil
}

func (m *MockClient) SubmitBlock(_ context.Context, blockHex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitBlockErr != nil {
		return m.SubmitBlockErr
	}
	m.SubmittedBlocks = append(m.SubmittedBlocks, blockHex)
	return nil
}
