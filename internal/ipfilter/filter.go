// Package ipfilter evaluates client addresses against store-managed allow
// and block rules.
package ipfilter

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/store"
)

// compiledRule is a parsed rule ready for matching. Exact addresses compile
// to a /32 or /128 so matching is uniform.
type compiledRule struct {
	net         *net.IPNet
	disposition store.Disposition
	expiresAt   *time.Time
}

func compile(r store.IPRule) (compiledRule, bool) {
	pattern := strings.TrimSpace(r.Pattern)
	if !strings.Contains(pattern, "/") {
		ip := net.ParseIP(pattern)
		if ip == nil {
			return compiledRule{}, false
		}
		if v4 := ip.To4(); v4 != nil {
			pattern += "/32"
		} else {
			pattern += "/128"
		}
	}
	_, ipNet, err := net.ParseCIDR(pattern)
	if err != nil {
		return compiledRule{}, false
	}
	return compiledRule{net: ipNet, disposition: r.Disposition, expiresAt: r.ExpiresAt}, true
}

// Filter holds a snapshot of the active rules, refreshed from the store on an
// interval. Evaluation never touches the store.
type Filter struct {
	rules store.RuleRepository

	mu      sync.RWMutex
	blocks  []compiledRule
	allows  []compiledRule
	loaded  time.Time

	log     zerolog.Logger
	nowFunc func() time.Time
}

func New(rules store.RuleRepository, log zerolog.Logger) *Filter {
	return &Filter{
		rules:   rules,
		log:     log,
		nowFunc: time.Now,
	}
}

// Reload replaces the snapshot. Unparseable patterns are skipped with a
// warning; a store failure keeps the previous snapshot.
func (f *Filter) Reload(ctx context.Context) error {
	raw, err := f.rules.ListActiveIPRules(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("ip rule reload failed, keeping snapshot")
		return err
	}

	var blocks, allows []compiledRule
	for _, r := range raw {
		cr, ok := compile(r)
		if !ok {
			f.log.Warn().Str("pattern", r.Pattern).Msg("skipping unparseable ip rule")
			continue
		}
		switch cr.disposition {
		case store.DispositionBlock:
			blocks = append(blocks, cr)
		case store.DispositionAllow:
			allows = append(allows, cr)
		}
	}

	f.mu.Lock()
	f.blocks = blocks
	f.allows = allows
	f.loaded = f.nowFunc()
	f.mu.Unlock()
	return nil
}

// StartReloader refreshes the snapshot on a ticker until ctx is done.
func (f *Filter) StartReloader(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = f.Reload(ctx)
			}
		}
	}()
}

// Allowed evaluates an address. Private and loopback addresses always pass.
// Block rules are checked before allow rules and the first match wins; with
// no match the address is allowed.
func (f *Filter) Allowed(ipStr string) bool {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		// Fail open on an unparseable address; the rules cannot name it.
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() {
		return true
	}

	f.mu.RLock()
	blocks, allows := f.blocks, f.allows
	f.mu.RUnlock()

	now := f.nowFunc()
	for _, r := range blocks {
		if r.expired(now) {
			continue
		}
		if r.net.Contains(ip) {
			return false
		}
	}
	for _, r := range allows {
		if r.expired(now) {
			continue
		}
		if r.net.Contains(ip) {
			return true
		}
	}
	return true
}

func (r compiledRule) expired(now time.Time) bool {
	return r.expiresAt != nil && !now.Before(*r.expiresAt)
}

// LoadedAt reports when the current snapshot was taken.
func (f *Filter) LoadedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaded
}
