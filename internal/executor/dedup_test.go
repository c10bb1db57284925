package executor

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	a := Hash(1700000000000, "BTC long")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Hash(1700000000000, "BTC long"))
	assert.NotEqual(t, a, Hash(1700000000001, "BTC long"))
	assert.NotEqual(t, a, Hash(1700000000000, "BTC short"))
}

func TestDedupTTL(t *testing.T) {
	now := time.Unix(0, 0)
	d := NewDedup(8, time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))

	now = now.Add(time.Minute)
	assert.False(t, d.IsDuplicate("a"), "expired entries are accepted again")
	assert.Equal(t, 1, d.Len())

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
}

func TestDedupCapacity(t *testing.T) {
	d := NewDedup(3, time.Hour)
	for i := 0; i < 5; i++ {
		assert.False(t, d.IsDuplicate(strconv.Itoa(i)))
	}
	assert.Equal(t, 3, d.Len())
	assert.False(t, d.IsDuplicate("0"), "oldest entries are evicted")
	assert.True(t, d.IsDuplicate("4"))
}
