package pubsub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenCache(t *testing.T) {
	t.Run("contains after add", func(t *testing.T) {
		c := newSeenCache(4)
		assert.False(t, c.Contains("a"))
		c.Add("a")
		assert.True(t, c.Contains("a"))
		assert.Equal(t, 1, c.Len())
	})

	t.Run("re-adding is a no-op", func(t *testing.T) {
		c := newSeenCache(4)
		c.Add("a")
		c.Add("a")
		assert.Equal(t, 1, c.Len())
	})

	t.Run("evicts oldest at capacity", func(t *testing.T) {
		c := newSeenCache(3)
		c.Add("a")
		c.Add("b")
		c.Add("c")
		c.Add("d")

		assert.Equal(t, 3, c.Len())
		assert.False(t, c.Contains("a"))
		assert.True(t, c.Contains("b"))
		assert.True(t, c.Contains("c"))
		assert.True(t, c.Contains("d"))
	})

	t.Run("eviction order survives churn", func(t *testing.T) {
		c := newSeenCache(10)
		for i := 0; i < 25; i++ {
			c.Add(fmt.Sprintf("id-%d", i))
		}
		assert.Equal(t, 10, c.Len())
		for i := 0; i < 15; i++ {
			assert.False(t, c.Contains(fmt.Sprintf("id-%d", i)))
		}
		for i := 15; i < 25; i++ {
			assert.True(t, c.Contains(fmt.Sprintf("id-%d", i)))
		}
	})
}
