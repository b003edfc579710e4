package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyDSNIsPassthrough(t *testing.T) {
	c, err := New("", nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Nil(t, c.client)
	assert.NoError(t, c.Close())
}

func TestGetOrSetPassthroughCallsFetchEveryTime(t *testing.T) {
	c, err := New("", nil)
	require.NoError(t, err)

	calls := 0
	fetch := func() (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := GetOrSet(context.Background(), c, "k", 0, fetch)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, 3, calls)
}

func TestGetOrSetNilCachePassthrough(t *testing.T) {
	v, err := GetOrSet(context.Background(), nil, "k", 0, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrSetPassthroughPropagatesFetchError(t *testing.T) {
	c, err := New("", nil)
	require.NoError(t, err)

	wantErr := errors.New("boom")
	_, err = GetOrSet(context.Background(), c, "k", 0, func() (string, error) { return "", wantErr })
	assert.ErrorIs(t, err, wantErr)
}
