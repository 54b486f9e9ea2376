package point

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeAndPrefixBoundaries(t *testing.T) {
	cases := []struct {
		p      uint32
		size   Size
		prefix uint32
	}{
		{0, Galaxy, 0},
		{255, Galaxy, 255},
		{256, Star, 0},
		{512, Star, 0},
		{65535, Star, 255},
		{65536, Planet, 0},
		{65792, Planet, 256},
		{1245952, Planet, 768},
		{0xffffffff, Planet, 0xffff},
	}
	for _, c := range cases {
		assert.Equal(t, c.size, SizeOf(c.p), "size of %d", c.p)
		assert.Equal(t, c.prefix, Prefix(c.p), "prefix of %d", c.p)
	}
}

func TestProxyRoleNames(t *testing.T) {
	for r := ProxyRole(0); r < NumProxyRoles; r++ {
		got, err := ParseProxyRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseProxyRole("owner")
	require.Error(t, err)
}

func TestKeysComplete(t *testing.T) {
	var k Keys
	assert.False(t, k.Complete())
	k.Crypt[0] = 1
	k.Auth[0] = 2
	assert.False(t, k.Complete())
	k.Suite = 1
	assert.True(t, k.Complete())
	assert.True(t, k.Same(k.Crypt, k.Auth, 1))
	assert.False(t, k.Same(k.Crypt, k.Auth, 2))
}
