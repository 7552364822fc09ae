// Package truncation implements the truncation-recovery cache (spec §4.J):
// an in-memory, one-shot, TTL-expiring store of tool- and content-truncation
// records, sharded to avoid global lock contention (spec §5).
package truncation

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
)

// DefaultTTL is how long a record survives if never retrieved (spec §3).
const DefaultTTL = 5 * time.Minute

// shardCount matches spec §5's suggested sharding factor.
const shardCount = 16

const contentHashLen = 16 // hex chars, matches original_source's 16-char digest

type toolEntry struct {
	record  chatmodel.ToolTruncation
	expires time.Time
}

type contentEntry struct {
	record  chatmodel.ContentTruncation
	expires time.Time
}

type shard struct {
	mu      sync.Mutex
	tools   map[string]toolEntry
	content map[string]contentEntry
}

// Cache is safe for concurrent use from many goroutines.
type Cache struct {
	shards [shardCount]*shard
	ttl    time.Duration
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl}
	for i := range c.shards {
		c.shards[i] = &shard{
			tools:   make(map[string]toolEntry),
			content: make(map[string]contentEntry),
		}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv32(key)
	return c.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// SaveToolTruncation records a tool-truncation keyed by tool-use id.
func (c *Cache) SaveToolTruncation(toolUseID, toolName string, sizeBytes int, reason string) {
	sh := c.shardFor(toolUseID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.tools[toolUseID] = toolEntry{
		record: chatmodel.ToolTruncation{
			ToolUseID: toolUseID,
			ToolName:  toolName,
			Timestamp: time.Now(),
			SizeBytes: sizeBytes,
			Reason:    reason,
		},
		expires: time.Now().Add(c.ttl),
	}
}

// GetToolTruncation retrieves and deletes the record for toolUseID, if any
// and not expired. One-shot: a second call for the same id returns false.
func (c *Cache) GetToolTruncation(toolUseID string) (chatmodel.ToolTruncation, bool) {
	sh := c.shardFor(toolUseID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.tools[toolUseID]
	if !ok {
		return chatmodel.ToolTruncation{}, false
	}
	delete(sh.tools, toolUseID)
	if time.Now().After(e.expires) {
		return chatmodel.ToolTruncation{}, false
	}
	return e.record, true
}

// HashContent returns the 16-hex-character content-truncation key for text,
// derived from SHA-256 of at most its first 500 characters (spec §3,
// supplemented by original_source's 16-char digest length).
func HashContent(text string) string {
	runes := []rune(text)
	if len(runes) > 500 {
		runes = runes[:500]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return hex.EncodeToString(sum[:])[:contentHashLen]
}

// SaveContentTruncation records a content-truncation for text, returning the
// hash it was keyed under.
func (c *Cache) SaveContentTruncation(text string) string {
	hash := HashContent(text)
	preview := text
	if r := []rune(preview); len(r) > 200 {
		preview = string(r[:200])
	}
	sh := c.shardFor(hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.content[hash] = contentEntry{
		record: chatmodel.ContentTruncation{
			Hash:      hash,
			Preview:   preview,
			Timestamp: time.Now(),
		},
		expires: time.Now().Add(c.ttl),
	}
	return hash
}

// GetContentTruncation retrieves and deletes the record for hash, if any and
// not expired.
func (c *Cache) GetContentTruncation(hash string) (chatmodel.ContentTruncation, bool) {
	sh := c.shardFor(hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.content[hash]
	if !ok {
		return chatmodel.ContentTruncation{}, false
	}
	delete(sh.content, hash)
	if time.Now().After(e.expires) {
		return chatmodel.ContentTruncation{}, false
	}
	return e.record, true
}

// Stats reports the current (unexpired-or-not, counted as stored) record
// counts, ported from original_source's get_cache_stats() diagnostic.
type Stats struct {
	ToolTruncations    int
	ContentTruncations int
	Total              int
}

func (c *Cache) Stats() Stats {
	var s Stats
	for _, sh := range c.shards {
		sh.mu.Lock()
		s.ToolTruncations += len(sh.tools)
		s.ContentTruncations += len(sh.content)
		sh.mu.Unlock()
	}
	s.Total = s.ToolTruncations + s.ContentTruncations
	return s
}
