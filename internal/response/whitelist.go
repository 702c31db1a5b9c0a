package response

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidWhitelistEntry = errors.New("invalid whitelist entry")

type whitelistEntry struct {
	prefix netip.Prefix
}

// parseEntry accepts a single address or a CIDR block
func parseEntry(entry string) (string, netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return "", netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidWhitelistEntry, entry)
		}
		p = p.Masked()
		return p.String(), p, nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return "", netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidWhitelistEntry, entry)
	}
	addr = addr.Unmap()
	return addr.String(), netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (e *Engine) AddToWhitelist(entry string) error {
	key, prefix, err := parseEntry(entry)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.whitelist[key] = whitelistEntry{prefix: prefix}
	e.mu.Unlock()

	log.WithField("entry", key).Info("Whitelist entry added")
	return nil
}

// RemoveFromWhitelist reports whether the entry was present
func (e *Engine) RemoveFromWhitelist(entry string) bool {
	key, _, err := parseEntry(entry)
	if err != nil {
		return false
	}

	e.mu.Lock()
	_, ok := e.whitelist[key]
	delete(e.whitelist, key)
	e.mu.Unlock()

	if ok {
		log.WithField("entry", key).Info("Whitelist entry removed")
	}
	return ok
}

func (e *Engine) IsWhitelisted(ip string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.whitelistedLocked(ip)
}

func (e *Engine) whitelistedLocked(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, w := range e.whitelist {
		if w.prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Whitelist returns the sorted whitelist entries
func (e *Engine) Whitelist() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.whitelist))
	for key := range e.whitelist {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
