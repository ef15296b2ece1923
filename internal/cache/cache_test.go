package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewCacheFromAddresses([]string{mr.Addr()})
	require.NoError(t, err)

	ctx := context.Background()
	type payload struct {
		Status string
	}

	assert.NoError(t, c.Set(ctx, "intent:pay_1", payload{Status: "PENDING"}, time.Minute))

	var got payload
	assert.NoError(t, c.Get(ctx, "intent:pay_1", &got))
	assert.Equal(t, "PENDING", got.Status)

	assert.NoError(t, c.Delete(ctx, "intent:pay_1"))
	assert.Error(t, c.Get(ctx, "intent:pay_1", &got))
}
