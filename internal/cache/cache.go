// Package cache implements the Data Cache (C5): a keyed, singleflight-
// coordinated disk cache sitting in front of the upstream invoker, with
// a freshness rule that distinguishes immutable historical results from
// midnight-bounded current/forward-looking ones.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/pkg/logging"
)

// Fetcher is the upstream call the cache sits in front of. It is
// satisfied by *upstream.Invoker without an import-cycle dependency.
type Fetcher interface {
	Call(ctx context.Context, interfaceName string, params map[string]string) (*model.Table, error)
}

// meta is the sidecar persisted next to every cached payload.
type meta struct {
	StoredAt time.Time `json:"stored_at"`
	Fresh    string    `json:"freshness"` // "permanent" or "daily"
}

// tablePayload is the on-disk shape of a cached Table. Table's own
// MarshalJSON produces the wire-facing ordered-record-object array;
// the disk format stays a plain Fields/Records struct so it round-
// trips through encoding/json without a matching custom unmarshaler.
type tablePayload struct {
	Fields  []string       `json:"fields"`
	Records [][]model.Cell `json:"records"`
}

// Cache is the on-disk, singleflight-coordinated Data Cache.
type Cache struct {
	root        string
	fetcher     Fetcher
	ceiling     int64
	serveStale  bool
	group       singleflight.Group
	logger      *logging.Logger
	mu          sync.Mutex // guards lastAccess and in-flight eviction exclusion
	lastAccess  map[string]time.Time
	evictExempt map[string]int // keys currently being read; never evicted
	sweeping    bool
	onOutcome   func(outcome string)
}

// Option configures a Cache.
type Option func(*Cache)

func WithCeiling(bytes int64) Option      { return func(c *Cache) { c.ceiling = bytes } }
func WithServeStaleOnError(b bool) Option { return func(c *Cache) { c.serveStale = b } }
func WithLogger(l *logging.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithOutcomeHook registers a callback invoked once per GetOrCompute
// with a coarse outcome ("hit", "miss", "stale", "error"), letting the
// caller wire metrics without this package depending on any particular
// instrumentation library.
func WithOutcomeHook(fn func(outcome string)) Option {
	return func(c *Cache) { c.onOutcome = fn }
}

func (c *Cache) reportOutcome(outcome string) {
	if c.onOutcome != nil {
		c.onOutcome(outcome)
	}
}

// New builds a Cache rooted at root, calling fetcher on miss.
func New(root string, fetcher Fetcher, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.CacheIOError, "cannot create cache root", err)
	}
	c := &Cache{
		root:        root,
		fetcher:     fetcher,
		ceiling:     1 << 30,
		serveStale:  true,
		logger:      logging.Default("data-cache"),
		lastAccess:  make(map[string]time.Time),
		evictExempt: make(map[string]int),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Key canonicalizes (interfaceName, params) into the cache key: the
// spec's §3 rule, keys lexicographically sorted and values taken in
// their string form, so semantically-equal calls hash identically.
func Key(interfaceName string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(interfaceName))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) entryDir(interfaceName string) string {
	return filepath.Join(c.root, sanitizeSegment(interfaceName))
}

func (c *Cache) payloadPath(interfaceName, key string) string {
	return filepath.Join(c.entryDir(interfaceName), key+".bin")
}

func (c *Cache) metaPath(interfaceName, key string) string {
	return filepath.Join(c.entryDir(interfaceName), key+".meta")
}

// sanitizeSegment defends the cache layout against an interface name
// that happens to contain path separators; interface names come from a
// closed registry so this is belt-and-suspenders, not untrusted input.
func sanitizeSegment(s string) string {
	return filepath.Base(filepath.Clean("/" + s))
}

// GetOrCompute is the cache's sole entry point.
func (c *Cache) GetOrCompute(ctx context.Context, interfaceName string, params map[string]string) (*model.Table, error) {
	key := Key(interfaceName, params)
	c.markReading(key, true)
	defer c.markReading(key, false)

	if table, ok, err := c.readFresh(interfaceName, key, params); err != nil {
		c.reportOutcome("error")
		return nil, err
	} else if ok {
		c.touch(key)
		c.reportOutcome("hit")
		return table, nil
	}

	var stale bool
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		table, callErr := c.fetcher.Call(ctx, interfaceName, params)
		if callErr != nil {
			if c.serveStale {
				if staleTable, ok := c.readAny(interfaceName, key); ok {
					c.logger.CacheLog("serve-stale-on-error", key, true)
					stale = true
					return staleTable, nil
				}
			}
			return nil, callErr
		}
		if err := c.write(interfaceName, key, params, table); err != nil {
			c.logger.WithError(err).Warn("cache write failed, serving computed result uncached")
		}
		return table, nil
	})
	if err != nil {
		c.reportOutcome("error")
		return nil, err
	}
	c.touch(key)
	if stale {
		c.reportOutcome("stale")
	} else {
		c.reportOutcome("miss")
	}

	go c.sweepIfNeeded()

	return v.(*model.Table), nil
}

// readFresh returns the cached payload only if it exists and passes the
// freshness rule.
func (c *Cache) readFresh(interfaceName, key string, params map[string]string) (*model.Table, bool, error) {
	m, table, ok, err := c.load(interfaceName, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if !isFresh(m, params) {
		return nil, false, nil
	}
	return table, true, nil
}

// readAny returns the cached payload regardless of freshness, for the
// serve-stale-on-error path.
func (c *Cache) readAny(interfaceName, key string) (*model.Table, bool) {
	_, table, ok, err := c.load(interfaceName, key)
	if err != nil || !ok {
		return nil, false
	}
	return table, true
}

func (c *Cache) load(interfaceName, key string) (meta, *model.Table, bool, error) {
	metaPath := c.metaPath(interfaceName, key)
	payloadPath := c.payloadPath(interfaceName, key)

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return meta{}, nil, false, nil
		}
		return meta{}, nil, false, errs.Wrap(errs.CacheIOError, "reading cache metadata failed", err)
	}
	var m meta
	if err := json.Unmarshal(metaBytes, &m); err != nil {
		return meta{}, nil, false, errs.Wrap(errs.CacheIOError, "corrupt cache metadata", err)
	}

	payloadBytes, err := os.ReadFile(payloadPath)
	if err != nil {
		if os.IsNotExist(err) {
			return meta{}, nil, false, nil
		}
		return meta{}, nil, false, errs.Wrap(errs.CacheIOError, "reading cache payload failed", err)
	}
	var payload tablePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return meta{}, nil, false, errs.Wrap(errs.CacheIOError, "corrupt cache payload", err)
	}
	table := model.NewTable(payload.Fields)
	table.Records = payload.Records
	return m, table, true, nil
}

// write persists (payload, stored_at) atomically: both files are
// written to sibling temp paths then renamed into place, so a process
// kill mid-write never leaves a torn file visible to a reader.
func (c *Cache) write(interfaceName, key string, params map[string]string, table *model.Table) error {
	dir := c.entryDir(interfaceName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.CacheIOError, "cannot create cache directory", err)
	}

	payloadBytes, err := json.Marshal(tablePayload{Fields: table.Fields, Records: table.Records})
	if err != nil {
		return errs.Wrap(errs.CacheIOError, "marshaling cache payload failed", err)
	}
	m := meta{StoredAt: time.Now(), Fresh: freshnessClass(params)}
	metaBytes, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(errs.CacheIOError, "marshaling cache metadata failed", err)
	}

	if err := atomicWrite(c.payloadPath(interfaceName, key), payloadBytes); err != nil {
		return err
	}
	return atomicWrite(c.metaPath(interfaceName, key), metaBytes)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errs.Wrap(errs.CacheIOError, "cannot create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.CacheIOError, "writing temp file failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CacheIOError, "closing temp file failed", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CacheIOError, "renaming temp file failed", err)
	}
	return nil
}

// isFresh implements the §4.5 rule: historical data (end_date < today)
// never expires; current/forward-looking data expires at the next
// local-midnight after stored_at.
func isFresh(m meta, params map[string]string) bool {
	if m.StoredAt.IsZero() {
		return false
	}
	if freshnessClass(params) == "permanent" {
		return true
	}
	expiry := nextMidnightAfter(m.StoredAt)
	return time.Now().Before(expiry)
}

func freshnessClass(params map[string]string) string {
	if isHistorical(params) {
		return "permanent"
	}
	return "daily"
}

// isHistorical reports whether the call's end_date parameter names a
// calendar date strictly before today in the local timezone. An
// absent or unparseable end_date is treated as "today" (not
// historical), per the spec's default.
func isHistorical(params map[string]string) bool {
	raw, ok := params["end_date"]
	if !ok || raw == "" {
		return false
	}
	end, ok := parseCalendarDate(raw)
	if !ok {
		return false
	}
	today := todayMidnight()
	return end.Before(today)
}

var dateLayouts = []string{"20060102", "2006-01-02", time.RFC3339, "2006/01/02"}

func parseCalendarDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func todayMidnight() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
}

func nextMidnightAfter(t time.Time) time.Time {
	local := t.In(time.Local)
	d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	return d.AddDate(0, 0, 1)
}

func (c *Cache) markReading(key string, reading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reading {
		c.evictExempt[key]++
	} else {
		c.evictExempt[key]--
		if c.evictExempt[key] <= 0 {
			delete(c.evictExempt, key)
		}
	}
}

func (c *Cache) touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAccess[key] = time.Now()
}

// sweepIfNeeded runs a background LRU eviction pass when the cache
// exceeds its configured ceiling. It never evicts a key currently held
// exempt by an in-flight read.
func (c *Cache) sweepIfNeeded() {
	c.mu.Lock()
	if c.sweeping {
		c.mu.Unlock()
		return
	}
	c.sweeping = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sweeping = false
		c.mu.Unlock()
	}()

	total, entries, err := c.scan()
	if err != nil {
		c.logger.WithError(err).Warn("cache eviction scan failed")
		return
	}
	if total <= c.ceiling {
		return
	}

	c.mu.Lock()
	sort.Slice(entries, func(i, j int) bool {
		ai, aok := c.lastAccess[entries[i].key]
		aj, bok := c.lastAccess[entries[j].key]
		if !aok {
			ai = time.Time{}
		}
		if !bok {
			aj = time.Time{}
		}
		return ai.Before(aj)
	})
	c.mu.Unlock()

	for _, e := range entries {
		if total <= c.ceiling {
			break
		}
		c.mu.Lock()
		exempt := c.evictExempt[e.key] > 0
		c.mu.Unlock()
		if exempt {
			continue
		}
		if err := os.Remove(e.payloadPath); err == nil {
			total -= e.size
		}
		os.Remove(e.metaPath)
		c.mu.Lock()
		delete(c.lastAccess, e.key)
		c.mu.Unlock()
	}
}

type cacheEntry struct {
	key         string
	payloadPath string
	metaPath    string
	size        int64
}

func (c *Cache) scan() (int64, []cacheEntry, error) {
	var total int64
	var entries []cacheEntry
	err := filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".bin" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		key := filepath.Base(path)
		key = key[:len(key)-len(".bin")]
		entries = append(entries, cacheEntry{
			key:         key,
			payloadPath: path,
			metaPath:    filepath.Join(filepath.Dir(path), key+".meta"),
			size:        info.Size(),
		})
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, nil, errs.Wrap(errs.CacheIOError, "scanning cache directory failed", err)
	}
	return total, entries, nil
}
