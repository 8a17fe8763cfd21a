package moderation

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefaultBlocklist is the illustrative set of terms used when no blocklist
// file is configured.
var DefaultBlocklist = []string{
	"stupid",
	"idiot",
	"dumb",
	"hate",
	"loser",
	"moron",
	"ugly",
	"jerk",
}

// DefaultLeet maps characters commonly used to disguise letters back to the
// letter they stand for.
var DefaultLeet = map[rune]rune{
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'0': 'o',
	'@': 'a',
	'$': 's',
}

// Config is the immutable input to NewFilter. NewFilter copies everything it
// needs, so mutating a Config after construction has no effect on the filter.
type Config struct {
	Blocklist []string
	Leet      map[rune]rune
}

// DefaultConfig returns a fresh copy of the built-in blocklist and leet table.
func DefaultConfig() Config {
	leet := make(map[rune]rune, len(DefaultLeet))
	for k, v := range DefaultLeet {
		leet[k] = v
	}
	return Config{
		Blocklist: append([]string(nil), DefaultBlocklist...),
		Leet:      leet,
	}
}

// fileConfig is the on-disk YAML shape:
//
//	blocklist:
//	  - stupid
//	  - kill yourself
//	leet:
//	  "1": i
//	  "@": a
type fileConfig struct {
	Blocklist []string          `yaml:"blocklist"`
	Leet      map[string]string `yaml:"leet"`
}

// LoadConfig reads a YAML blocklist file. When the file has no leet section
// the default table is used.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("moderation: read config: %w", err)
	}
	return ParseConfig(data)
}

// LoadFilter builds a Filter from a YAML blocklist file, or from the
// default configuration when path is empty.
func LoadFilter(path string) (*Filter, error) {
	if path == "" {
		return NewDefaultFilter(), nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewFilter(cfg), nil
}

// ParseConfig decodes a YAML blocklist document.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("moderation: parse config: %w", err)
	}

	cfg := Config{Blocklist: fc.Blocklist}
	if len(fc.Leet) == 0 {
		cfg.Leet = DefaultConfig().Leet
		return cfg, nil
	}

	cfg.Leet = make(map[rune]rune, len(fc.Leet))
	for from, to := range fc.Leet {
		if utf8.RuneCountInString(from) != 1 || utf8.RuneCountInString(to) != 1 {
			return Config{}, fmt.Errorf("moderation: leet entry %q -> %q must map one character to one character", from, to)
		}
		k, _ := utf8.DecodeRuneInString(from)
		v, _ := utf8.DecodeRuneInString(strings.ToLower(to))
		cfg.Leet[k] = v
	}
	return cfg, nil
}

// normalizeTerms lowercases and trims terms, dropping empties and duplicates
// while keeping the first occurrence order.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
