// Package similarity provides the pairwise comparison primitives consumed by
// the identity resolver.
package similarity

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config holds the comparison policy data. The nickname table and the
// alias-domain allow-lists are configuration, not universal rules; deployments
// extend them via YAML files.
type Config struct {
	// AliasDomains are domains where user+tag@domain is equivalent to
	// user@domain. Consumer providers are deliberately not included by
	// default: alias equivalence on free-mail domains causes false merges.
	AliasDomains []string `yaml:"alias_domains"`

	// DotInsensitiveDomains are domains known to ignore dots in the local
	// part, so j.smith@domain equals jsmith@domain.
	DotInsensitiveDomains []string `yaml:"dot_insensitive_domains"`

	// Nicknames groups given names that refer to the same person
	// (e.g. ["william", "bill", "will"]).
	Nicknames [][]string `yaml:"nicknames"`
}

// DefaultConfig returns the built-in comparison policy. The nickname set is
// intentionally small; real coverage comes from deployment config.
func DefaultConfig() Config {
	return Config{
		Nicknames: [][]string{
			{"william", "bill", "will", "billy"},
			{"robert", "bob", "rob", "bobby"},
			{"richard", "rick", "dick", "rich"},
			{"james", "jim", "jimmy"},
			{"john", "jack", "johnny"},
			{"michael", "mike"},
			{"elizabeth", "liz", "beth", "betty"},
			{"katherine", "kate", "katie", "kathy"},
			{"margaret", "maggie", "meg", "peggy"},
			{"thomas", "tom", "tommy"},
			{"joseph", "joe", "joey"},
			{"charles", "charlie", "chuck"},
			{"christopher", "chris"},
			{"daniel", "dan", "danny"},
			{"matthew", "matt"},
			{"anthony", "tony"},
			{"steven", "steve", "stephen"},
			{"edward", "ed", "eddie", "ted"},
			{"jennifer", "jen", "jenny"},
			{"patricia", "pat", "patty", "tricia"},
		},
	}
}

// LoadConfig reads a Config from a YAML file and merges it over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "similarity: read config %s", path)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, eris.Wrapf(err, "similarity: parse config %s", path)
	}
	cfg.AliasDomains = append(cfg.AliasDomains, file.AliasDomains...)
	cfg.DotInsensitiveDomains = append(cfg.DotInsensitiveDomains, file.DotInsensitiveDomains...)
	cfg.Nicknames = append(cfg.Nicknames, file.Nicknames...)
	return cfg, nil
}

func toDomainSet(domains []string) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[d] = true
		}
	}
	return set
}
