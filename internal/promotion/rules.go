package promotion

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

// Rule routes artifacts whose name matches Pattern into Subfolder.
type Rule struct {
	Pattern   *regexp.Regexp
	Subfolder string
}

// RuleSpec is the configuration form of a Rule.
type RuleSpec struct {
	Pattern   string `mapstructure:"pattern" yaml:"pattern"`
	Subfolder string `mapstructure:"subfolder" yaml:"subfolder"`
}

// Rules are evaluated in order; the first match wins.
type Rules []Rule

// DefaultRules split source archives from binary archives.
func DefaultRules() Rules {
	return Rules{
		{Pattern: regexp.MustCompile(`_src\.`), Subfolder: "sources"},
		{Pattern: regexp.MustCompile(`.`), Subfolder: "binaries"},
	}
}

func ParseRules(specs []RuleSpec) (Rules, error) {
	rules := make(Rules, 0, len(specs))
	for i, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, release.Configurationf("subfolder rule %d: %v", i, err)
		}
		if strings.Trim(path.Clean("/"+s.Subfolder), "/") != s.Subfolder {
			return nil, release.Configurationf("subfolder rule %d: invalid subfolder %q", i, s.Subfolder)
		}
		rules = append(rules, Rule{Pattern: re, Subfolder: s.Subfolder})
	}
	return rules, nil
}

// Subfolder returns the subfolder for name, or "" when no rule matches.
func (r Rules) Subfolder(name string) string {
	for _, rule := range r {
		if rule.Pattern.MatchString(name) {
			return rule.Subfolder
		}
	}
	return ""
}

// Destination is the folder an artifact is promoted into. Unmatched names
// go to releaseFolder itself.
func (r Rules) Destination(name, releaseFolder string) string {
	return path.Join(releaseFolder, r.Subfolder(name))
}

func (r Rules) String() string {
	parts := make([]string, len(r))
	for i, rule := range r {
		parts[i] = fmt.Sprintf("%s -> %s", rule.Pattern, rule.Subfolder)
	}
	return strings.Join(parts, ", ")
}
