package session

import (
	"os"
	"strconv"
	"strings"
)

// Allowlist holds the Telegram IDs that are granted the ADMIN role on login.
// The set is static for the process lifetime; membership never depends on
// store state.
type Allowlist struct {
	ids map[int64]struct{}
}

// NewAllowlist merges configured IDs with a comma-separated environment
// fallback. Unparseable entries are skipped.
func NewAllowlist(ids []int64, envName string) *Allowlist {
	a := &Allowlist{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		a.ids[id] = struct{}{}
	}
	if envName != "" {
		for _, part := range strings.Split(os.Getenv(envName), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				continue
			}
			a.ids[id] = struct{}{}
		}
	}
	return a
}

func (a *Allowlist) IsPrivileged(telegramID int64) bool {
	_, ok := a.ids[telegramID]
	return ok
}

func (a *Allowlist) Len() int { return len(a.ids) }
