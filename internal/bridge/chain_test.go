package bridge

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainSource(t *testing.T) {
	tests := []struct {
		name  string
		chain *Chain
		want  string
	}{
		{
			name:  "bare target",
			chain: NewChain("document"),
			want:  "return await document",
		},
		{
			name:  "calls with arguments",
			chain: NewChain("document").Call("find", "#Card").Call("get", "fill"),
			want:  `return await document.find("#Card").get("fill")`,
		},
		{
			name:  "property read",
			chain: NewChain("document").Get("root").Call("children").Get("length"),
			want:  "return await document.root.children().length",
		},
		{
			name:  "structured arguments",
			chain: NewChain("document").Call("create", "frame", "Hero", 0),
			want:  `return await document.create("frame", "Hero", 0)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.chain.Source()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChainIsImmutable(t *testing.T) {
	base := NewChain("document").Call("find", "#A")
	left := base.Call("remove")
	right := base.Get("name")

	assert.Len(t, base.Steps(), 1)
	assert.Equal(t, "remove", left.Steps()[1].Method)
	assert.True(t, right.Steps()[1].Property)
}

func TestChainRejectsInvalidNames(t *testing.T) {
	_, err := NewChain("document").Call("find(); process.exit").Source()
	assert.Error(t, err)

	_, err = NewChain("1abc").Source()
	assert.Error(t, err)
}

func TestCallChainSendsRenderedSource(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	pending := make(chan error, 1)
	go func() {
		_, err := b.CallChain(context.Background(), NewChain("clock").Call("now"))
		pending <- err
	}()

	req := relay.request(t)
	assert.Equal(t, "return await clock.now()", req.SourceText)
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 1})
	require.NoError(t, <-pending)
}
