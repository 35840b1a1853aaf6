package leaderelection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashkit/utils"
)

func TestNew_WithoutEndpointsIsNoop(t *testing.T) {
	conf := &utils.Config{}
	conf.SetDefaults()

	e, err := New(context.Background(), conf, "runner-1")
	require.NoError(t, err)
	assert.IsType(t, &NoopElector{}, e)
}

func TestNoopElector(t *testing.T) {
	e := &NoopElector{}
	assert.False(t, e.IsLeader())

	require.NoError(t, e.Campaign(context.Background()))
	assert.True(t, e.IsLeader())

	require.NoError(t, e.Resign(context.Background()))
	assert.False(t, e.IsLeader())
	assert.NoError(t, e.Close())
}

func TestNoopElector_CancelledCampaign(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &NoopElector{}
	assert.ErrorIs(t, e.Campaign(ctx), context.Canceled)
	assert.False(t, e.IsLeader())
}
