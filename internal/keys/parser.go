package keys

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	. "github.com/BenItBuhner/Model-Proxy/internal/logging"
	"github.com/BenItBuhner/Model-Proxy/internal/providerconfig"
)

// indexedMatch pairs an {INDEX} placeholder match with its numeric index,
// so matches can be sorted before being appended to the key list.
type indexedMatch struct {
	index int
	value string
}

// ParseProviderKeys returns the ordered, deduplicated list of API keys
// found in the process environment for provider, per the patterns
// registered in cfg (or the default pattern pair if cfg has none
// configured). Patterns are scanned in declaration order; within an
// {INDEX} pattern, matches are ordered by ascending numeric index. Values
// already seen (by value, not variable name) are skipped.
func ParseProviderKeys(cfg *providerconfig.Registry, provider string) []string {
	var patterns []string
	if cfg != nil {
		patterns = cfg.EnvVarPatterns(provider)
	} else {
		prefix := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
		patterns = []string{prefix + "_API_KEY", prefix + "_API_KEY_{INDEX}"}
	}

	keys := make([]string, 0, len(patterns))
	seen := make(map[string]bool, len(patterns))

	add := func(value string) {
		if value != "" && !seen[value] {
			keys = append(keys, value)
			seen[value] = true
		}
	}

	for _, pattern := range patterns {
		if strings.Contains(pattern, "{INDEX}") {
			for _, m := range collectIndexed(pattern) {
				add(m.value)
			}
		} else {
			add(os.Getenv(pattern))
		}
	}

	return keys
}

// collectIndexed scans the process environment for variables matching
// pattern with {INDEX} replaced by one or more decimal digits, returning
// matches sorted ascending by that index.
func collectIndexed(pattern string) []indexedMatch {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.Replace(escaped, regexp.QuoteMeta("{INDEX}"), `(\d+)`, 1)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		L_warn("keys: invalid env var pattern, skipping", "pattern", pattern, "error", err)
		return nil
	}

	var matches []indexedMatch
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		matches = append(matches, indexedMatch{index: idx, value: value})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].index < matches[j].index })
	return matches
}
