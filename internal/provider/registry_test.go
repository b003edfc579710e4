package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProvider fails every FetchModels call after the first, so tests
// can assert the registry falls back to its own in-memory lastGood
// cache rather than propagating the upstream error (§4.5, §8).
type flakyProvider struct {
	key   string
	calls int
}

func (p *flakyProvider) Key() string        { return p.key }
func (p *flakyProvider) IsConfigured() bool { return true }

func (p *flakyProvider) FetchModels(ctx context.Context) ([]Model, error) {
	p.calls++
	if p.calls == 1 {
		return []Model{{ID: "good-1"}}, nil
	}
	return nil, errors.New("upstream unreachable")
}

func (p *flakyProvider) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	return nil, errors.New("unused")
}

func (p *flakyProvider) Stream(ctx context.Context, req CallRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, nil
}

func TestRegistryFetchModelsUnknownKey(t *testing.T) {
	r := NewRegistryFrom()
	_, err := r.FetchModels(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestRegistryFetchModelsFallsBackToLastGood(t *testing.T) {
	p := &flakyProvider{key: "flaky"}
	r := NewRegistryFrom(p)

	first, err := r.FetchModels(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, []Model{{ID: "good-1"}}, first)

	// The next call fails upstream; with no cache attached the registry
	// still has its in-memory lastGood snapshot to fall back on.
	second, err := r.FetchModels(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, p.calls)
}

func TestRegistryFetchModelsPropagatesErrorWithoutPriorSuccess(t *testing.T) {
	p := &flakyProvider{key: "flaky", calls: 1} // next call is the "second" failing call
	r := NewRegistryFrom(p)

	_, err := r.FetchModels(context.Background(), "flaky")
	assert.Error(t, err)
}
