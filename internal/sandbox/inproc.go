package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/strata-labs/strata-go/internal/exec/remote"
)

// InProcClient runs the sandbox service synchronously inside the calling
// process. It backs single-binary deployments and the adapter parity tests.
type InProcClient struct {
	service *Service

	mu   sync.Mutex
	runs map[string]remote.RemoteStatus
}

func NewInProcClient(service *Service) (*InProcClient, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	return &InProcClient{service: service, runs: make(map[string]remote.RemoteStatus)}, nil
}

func (c *InProcClient) Submit(ctx context.Context, payloadKey string) (string, error) {
	if c == nil || c.service == nil {
		return "", errors.New("client not initialized")
	}
	id := uuid.NewString()
	resultKey, err := c.service.ExecutePayload(ctx, payloadKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.runs[id] = remote.RemoteStatus{State: stateFromResultKey(resultKey), ResultKey: resultKey}
	case errors.Is(err, context.Canceled):
		c.runs[id] = remote.RemoteStatus{State: remote.StateCancelled, Message: err.Error()}
	default:
		c.runs[id] = remote.RemoteStatus{State: remote.StateFailed, Message: err.Error()}
		return "", err
	}
	return id, nil
}

func (c *InProcClient) Status(_ context.Context, id string) (remote.RemoteStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.runs[id]
	if !ok {
		return remote.RemoteStatus{}, errors.New("unknown run " + id)
	}
	return status, nil
}

func (c *InProcClient) Cancel(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status, ok := c.runs[id]; ok && !status.Terminal() {
		c.runs[id] = remote.RemoteStatus{State: remote.StateCancelled}
	}
	return nil
}

// stateFromResultKey marks in-proc runs succeeded; the published result
// carries the actual run status, including failed and cancelled runs.
func stateFromResultKey(resultKey string) string {
	if strings.TrimSpace(resultKey) == "" {
		return remote.StateFailed
	}
	return remote.StateSucceeded
}
