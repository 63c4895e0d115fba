package framegraph_test

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/framegraph"
)

func TestUsageFor(t *testing.T) {
	bufferUsage, err := framegraph.BufferUsageFor(framegraph.AccessUniform | framegraph.AccessIndirect | framegraph.AccessTransferDst)
	require.NoError(t, err)
	require.Equal(t, gputypes.BufferUsageUniform|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst, bufferUsage)

	textureUsage, err := framegraph.TextureUsageFor(framegraph.AccessColorAttachment | framegraph.AccessTransferSrc)
	require.NoError(t, err)
	require.Equal(t, gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageCopySrc, textureUsage)

	_, err = framegraph.BufferUsageFor(framegraph.AccessSampled | framegraph.AccessVertex)
	require.ErrorIs(t, err, framegraph.ErrInvalidAccess)
	require.Contains(t, err.Error(), "Sampled")

	_, err = framegraph.TextureUsageFor(framegraph.AccessIndex)
	require.ErrorIs(t, err, framegraph.ErrInvalidAccess)
}

func TestFlagNames(t *testing.T) {
	require.Equal(t, "DepthStencilAttachment", framegraph.AccessDepthStencilAttachment.String())
	require.Equal(t, "Compute", framegraph.StageCompute.String())
	require.Equal(t, "Transfer", framegraph.KindTransfer.String())
	require.Equal(t, "Modify", framegraph.DeclareModify.String())
	require.Equal(t, "None", framegraph.TextureUsageString(0))
}
