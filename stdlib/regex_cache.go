package stdlib

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexCache memoizes compiled patterns across events. Rule sets use a small
// fixed set of patterns, so a capped map is enough; the cache resets rather
// than evicts when it fills.
type regexCache struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
	cap      int
}

var globalRegexCache = &regexCache{
	patterns: make(map[string]*regexp.Regexp),
	cap:      256,
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.patterns[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	if err := validatePatternComplexity(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	if len(c.patterns) >= c.cap {
		c.patterns = make(map[string]*regexp.Regexp)
	}
	c.patterns[pattern] = re
	c.mu.Unlock()
	return re, nil
}

// validatePatternComplexity rejects patterns likely to backtrack
// pathologically. Rule sets accept operator-authored patterns, so the guard
// runs before every first compile.
func validatePatternComplexity(pattern string) error {
	if len(pattern) > 500 {
		return fmt.Errorf("regex pattern too long (max 500 chars): %d chars", len(pattern))
	}

	dangerousFragments := []string{
		`(\w+)*`,
		`(\w*)+`,
		`(a+)+`,
		`(.*)*`,
		`(.+)+`,
		`(\s+)*`,
	}
	for _, fragment := range dangerousFragments {
		if strings.Contains(pattern, fragment) {
			return fmt.Errorf("regex pattern contains nested quantifiers that may cause exponential backtracking")
		}
	}

	if strings.Count(pattern, "(") > 20 {
		return fmt.Errorf("regex pattern has too many groups (max 20)")
	}
	return nil
}
