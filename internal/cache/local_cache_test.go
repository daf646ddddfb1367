package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache(maxSize int) (*LocalCache, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLocalCache(maxSize, time.Minute)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLocalCache(t *testing.T) {
	t.Run("读写与删除", func(t *testing.T) {
		c, _ := newTestCache(0)
		defer c.Close()

		c.Set("a", 1, 0)
		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)

		c.Delete("a")
		_, ok = c.Get("a")
		assert.False(t, ok)
	})

	t.Run("过期后不可读", func(t *testing.T) {
		c, now := newTestCache(0)
		defer c.Close()

		c.Set("a", "x", time.Second)
		*now = now.Add(2 * time.Second)

		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("清理过期条目", func(t *testing.T) {
		c, now := newTestCache(0)
		defer c.Close()

		c.Set("short", 1, time.Second)
		c.Set("long", 2, time.Hour)
		*now = now.Add(time.Minute)

		c.removeExpired()
		assert.Equal(t, 1, c.Len())
	})

	t.Run("超出容量淘汰最早过期的条目", func(t *testing.T) {
		c, _ := newTestCache(2)
		defer c.Close()

		c.Set("a", 1, time.Second)
		c.Set("b", 2, time.Hour)
		c.Set("c", 3, time.Hour)

		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("并发访问", func(t *testing.T) {
		c := NewLocalCache(100, time.Minute)
		defer c.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c.Set("k", i, 0)
				c.Get("k")
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, c.Len())
	})

	t.Run("重复关闭", func(t *testing.T) {
		c := NewLocalCache(1, time.Minute)
		c.Close()
		assert.NotPanics(t, c.Close)
	})
}
