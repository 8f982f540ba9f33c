package groutine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_PropagatesName(t *testing.T) {
	got := make(chan string, 1)

	Go(context.Background(), "ble-read-AA", func(ctx context.Context) {
		got <- Name(ctx)
	})

	assert.Equal(t, "ble-read-AA", <-got)
}

func TestGo_NilParent(t *testing.T) {
	got := make(chan string, 1)

	//nolint:staticcheck // nil parent is part of the contract
	Go(nil, "worker", func(ctx context.Context) {
		got <- Name(ctx)
	})

	assert.Equal(t, "worker", <-got)
}

func TestName_Unnamed(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	//nolint:staticcheck
	assert.Equal(t, "", Name(nil))
}
