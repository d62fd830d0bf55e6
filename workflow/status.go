package workflow

import (
	"sync"

	"github.com/conclave-ai/conclave/types"
)

// statusBoard tracks per-provider lifecycle state during one step. Fan-out
// callbacks write it concurrently.
type statusBoard struct {
	mu    sync.Mutex
	order []string
	state map[string]types.ProviderStatus
}

func newStatusBoard(providerIDs []string) *statusBoard {
	b := &statusBoard{
		order: append([]string(nil), providerIDs...),
		state: make(map[string]types.ProviderStatus, len(providerIDs)),
	}
	for _, id := range providerIDs {
		b.state[id] = types.ProviderStatus{ProviderID: id, Status: types.ProviderQueued}
	}
	return b
}

func (b *statusBoard) set(providerID string, s types.ProviderState, errMsg string) {
	b.mu.Lock()
	b.state[providerID] = types.ProviderStatus{ProviderID: providerID, Status: s, Error: errMsg}
	b.mu.Unlock()
}

// snapshot returns the statuses in request order plus completed/failed
// counts.
func (b *statusBoard) snapshot() (list []types.ProviderStatus, completed, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list = make([]types.ProviderStatus, 0, len(b.order))
	for _, id := range b.order {
		st := b.state[id]
		list = append(list, st)
		switch st.Status {
		case types.ProviderCompleted:
			completed++
		case types.ProviderFailed:
			failed++
		}
	}
	return list, completed, failed
}
