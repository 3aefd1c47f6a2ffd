// Package constraints decides allow/deny for an API key and request envelope.
package constraints

import (
	"net/netip"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// Constraint names surfaced on denial, matching the predicate keys of the
// key constraint shape.
const (
	NameExpirationDate        = "expirationDate"
	NameAllowedEnvironments   = "allowedEnvironments"
	NameIPRestrictions        = "ipRestrictions"
	NameRefererRestrictions   = "refererRestrictions"
	NameOriginRestrictions    = "originRestrictions"
	NameUserAgentRestrictions = "userAgentRestrictions"
)

// Envelope is the subset of a producer request the evaluator inspects.
type Envelope struct {
	ClientIP    string
	Referer     string
	Origin      string
	UserAgent   string
	Environment string
}

// Compiled holds the parsed form of one key's constraints. Parsing happens
// once per key; malformed entries are dropped, which fails closed because a
// present predicate with no matching entry denies.
type Compiled struct {
	expiration  *time.Time
	allowedEnvs map[string]struct{}

	ipPresent  bool
	ipPrefixes []netip.Prefix

	refererPresent bool
	refererGlobs   []*regexp.Regexp

	originPresent bool
	originGlobs   []*regexp.Regexp

	uaPresent  bool
	uaPatterns []*regexp.Regexp
}

// Compile parses a key's constraints into matchable form.
func Compile(c models.KeyConstraints) *Compiled {
	out := &Compiled{expiration: c.ExpirationDate}

	if c.AllowedEnvironments != nil {
		out.allowedEnvs = make(map[string]struct{}, len(c.AllowedEnvironments))
		for _, env := range c.AllowedEnvironments {
			out.allowedEnvs[env] = struct{}{}
		}
	}

	if c.IPRestrictions != nil {
		out.ipPresent = true
		for _, entry := range c.IPRestrictions.AllowedIPs {
			if prefix, err := netip.ParsePrefix(entry); err == nil {
				out.ipPrefixes = append(out.ipPrefixes, prefix)
				continue
			}
			if addr, err := netip.ParseAddr(entry); err == nil {
				out.ipPrefixes = append(out.ipPrefixes, netip.PrefixFrom(addr, addr.BitLen()))
			}
		}
	}

	if c.RefererRestrictions != nil {
		out.refererPresent = true
		out.refererGlobs = compileGlobs(c.RefererRestrictions.AllowedReferers)
	}

	if c.OriginRestrictions != nil {
		out.originPresent = true
		out.originGlobs = compileGlobs(c.OriginRestrictions.AllowedOrigins)
	}

	if c.UserAgentRestrictions != nil {
		out.uaPresent = true
		for _, pattern := range c.UserAgentRestrictions.AllowedPatterns {
			if re, err := regexp.Compile(pattern); err == nil {
				out.uaPatterns = append(out.uaPatterns, re)
			}
		}
	}

	return out
}

// Evaluate runs the predicates in their fixed order and returns the name of
// the first failing one. Absent predicates pass vacuously.
func (c *Compiled) Evaluate(env Envelope, now time.Time) (string, bool) {
	if c.expiration != nil && now.After(*c.expiration) {
		return NameExpirationDate, false
	}

	if c.allowedEnvs != nil {
		if _, ok := c.allowedEnvs[env.Environment]; !ok {
			return NameAllowedEnvironments, false
		}
	}

	if c.ipPresent && !c.matchIP(env.ClientIP) {
		return NameIPRestrictions, false
	}

	if c.refererPresent && !matchGlobs(c.refererGlobs, env.Referer) {
		return NameRefererRestrictions, false
	}

	if c.originPresent && !matchGlobs(c.originGlobs, env.Origin) {
		return NameOriginRestrictions, false
	}

	if c.uaPresent {
		if env.UserAgent == "" {
			return NameUserAgentRestrictions, false
		}
		matched := false
		for _, re := range c.uaPatterns {
			if re.MatchString(env.UserAgent) {
				matched = true
				break
			}
		}
		if !matched {
			return NameUserAgentRestrictions, false
		}
	}

	return "", true
}

func (c *Compiled) matchIP(raw string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.ipPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func matchGlobs(globs []*regexp.Regexp, value string) bool {
	if value == "" {
		return false
	}
	for _, glob := range globs {
		if glob.MatchString(value) {
			return true
		}
	}
	return false
}

// compileGlobs turns URL glob patterns into anchored regexps. Only `*` is
// special; the scheme and host portions match case-insensitively, the path
// case-sensitively.
func compileGlobs(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(globToRegexp(pattern))
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

func globToRegexp(pattern string) string {
	hostPart := pattern
	pathPart := ""
	if idx := pathStart(pattern); idx >= 0 {
		hostPart = pattern[:idx]
		pathPart = pattern[idx:]
	}

	var b strings.Builder
	b.WriteString(`\A`)
	if hostPart != "" {
		b.WriteString("(?i:")
		b.WriteString(globPortion(hostPart))
		b.WriteString(")")
	}
	b.WriteString(globPortion(pathPart))
	b.WriteString(`\z`)
	return b.String()
}

// pathStart returns the index of the first path character, skipping past a
// scheme separator when present.
func pathStart(pattern string) int {
	rest := pattern
	offset := 0
	if idx := strings.Index(pattern, "://"); idx >= 0 {
		offset = idx + 3
		rest = pattern[offset:]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return offset + idx
	}
	return -1
}

func globPortion(portion string) string {
	var b strings.Builder
	for i, segment := range strings.Split(portion, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(segment))
	}
	return b.String()
}

// Evaluator caches compiled constraints per API key. Constraints are
// immutable for a given key ID, so entries never need invalidation.
type Evaluator struct {
	compiled sync.Map // key ID -> *Compiled
}

// NewEvaluator creates an evaluator with an empty compile cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate checks the envelope against the key's constraints, compiling
// them on first use.
func (e *Evaluator) Evaluate(key *models.APIKey, env Envelope, now time.Time) (string, bool) {
	if cached, ok := e.compiled.Load(key.ID); ok {
		return cached.(*Compiled).Evaluate(env, now)
	}
	compiled := Compile(key.Constraints)
	e.compiled.Store(key.ID, compiled)
	return compiled.Evaluate(env, now)
}
