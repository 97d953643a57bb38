package search_test

import (
	"testing"
	"time"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageWithNames(names ...string) *catalog.SearchPage {
	files := make([]*catalog.File, len(names))
	for k, name := range names {
		files[k] = &catalog.File{ChannelID: -100, MessageID: int64(k + 1), FileName: name}
	}

	return &catalog.SearchPage{Files: files, Total: len(names)}
}

func TestCacheHitWithinTTL(t *testing.T) {
	cache := search.NewCache(search.DefaultMaxEntries, time.Second)
	key := search.Key{Query: "tom and jerry", ChannelID: -100}

	cache.Put(key, pageWithNames("tom and jerry s01e01"))

	page, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "tom and jerry s01e01", page.Files[0].FileName)
}

func TestCacheMissAfterTTLElapsed(t *testing.T) {
	cache := search.NewCache(search.DefaultMaxEntries, time.Millisecond*40)
	key := search.Key{Query: "tom and jerry", ChannelID: -100}

	cache.Put(key, pageWithNames("tom and jerry s01e01"))

	_, ok := cache.Get(key)
	require.True(t, ok, "entry should be served before the TTL elapses")

	time.Sleep(time.Millisecond * 80)

	_, ok = cache.Get(key)
	assert.False(t, ok, "entry older than the TTL must behave as absent")
}

func TestCacheMissForUnknownKey(t *testing.T) {
	cache := search.NewCache(search.DefaultMaxEntries, time.Second)

	_, ok := cache.Get(search.Key{Query: "never stored", ChannelID: -100})
	assert.False(t, ok)
}

func TestCacheKeysAreScopedByChannel(t *testing.T) {
	cache := search.NewCache(search.DefaultMaxEntries, time.Second)
	cache.Put(search.Key{Query: "homecoming", ChannelID: -100}, pageWithNames("a"))
	cache.Put(search.Key{Query: "homecoming", ChannelID: -200}, pageWithNames("b"))

	pageA, okA := cache.Get(search.Key{Query: "homecoming", ChannelID: -100})
	pageB, okB := cache.Get(search.Key{Query: "homecoming", ChannelID: -200})

	require.True(t, okA)
	require.True(t, okB)
	assert.NotEqual(t, pageA.Files[0].FileName, pageB.Files[0].FileName)
}

func TestInvalidateScopeRemovesOnlyThatScope(t *testing.T) {
	cache := search.NewCache(search.DefaultMaxEntries, time.Minute)
	cache.Put(search.Key{Query: "alpha", ChannelID: -100}, pageWithNames("a"))
	cache.Put(search.Key{Query: "beta", ChannelID: -100}, pageWithNames("b"))
	cache.Put(search.Key{Query: "alpha", ChannelID: -200}, pageWithNames("c"))

	cache.InvalidateScope(-100)

	_, ok := cache.Get(search.Key{Query: "alpha", ChannelID: -100})
	assert.False(t, ok)
	_, ok = cache.Get(search.Key{Query: "beta", ChannelID: -100})
	assert.False(t, ok)

	_, ok = cache.Get(search.Key{Query: "alpha", ChannelID: -200})
	assert.True(t, ok, "other scopes must be untouched by the invalidation")
}
