package ghost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU_EvictsOldest(t *testing.T) {
	c := newLRU(2)
	c.put(&entry{zulipUserID: 1, matrixUserID: "@_zulip_1:x"})
	c.put(&entry{zulipUserID: 2, matrixUserID: "@_zulip_2:x"})
	c.put(&entry{zulipUserID: 3, matrixUserID: "@_zulip_3:x"})

	assert.Equal(t, 2, c.size())
	_, ok := c.get(1)
	assert.False(t, ok, "entry 1 should have been evicted")

	_, ok = c.get(2)
	assert.True(t, ok)
	_, ok = c.get(3)
	assert.True(t, ok)
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	c := newLRU(2)
	c.put(&entry{zulipUserID: 1, matrixUserID: "@_zulip_1:x"})
	c.put(&entry{zulipUserID: 2, matrixUserID: "@_zulip_2:x"})

	c.get(1) // 1 is now most recently used
	c.put(&entry{zulipUserID: 3, matrixUserID: "@_zulip_3:x"})

	_, ok := c.get(2)
	assert.False(t, ok, "entry 2 should have been evicted, not 1")
	_, ok = c.get(1)
	assert.True(t, ok)
}
