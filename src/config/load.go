package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var placeholderRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML document at path, substituting placeholders from the
// secrets file at secretsPath (optional) and the environment.
func Load(path, secretsPath string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var secrets map[string]string
	if secretsPath != "" {
		secrets, err = godotenv.Read(secretsPath)
		if err != nil {
			return nil, fmt.Errorf("config: read secrets %s: %w", secretsPath, err)
		}
	}
	return Parse(raw, Lookup(secrets))
}

// Lookup resolves placeholder names from secrets, then the environment.
func Lookup(secrets map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if v, ok := secrets[name]; ok {
			return v, true
		}
		return os.LookupEnv(name)
	}
}

// Parse decodes and validates a document. lookup resolves placeholders.
func Parse(raw []byte, lookup func(string) (string, bool)) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sub := substituter{lookup: lookup, used: map[string]string{}}
	sub.walk(&root)
	if len(sub.missing) > 0 {
		return nil, fmt.Errorf("%w: unresolved placeholders: %s", ErrInvalid, strings.Join(sub.missing, ", "))
	}

	// Re-encode so the strict decoder can reject unknown keys.
	resolved, err := yaml.Marshal(&root)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(resolved))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	for _, v := range sub.used {
		if v != "" {
			cfg.Secrets = append(cfg.Secrets, v)
		}
	}

	cfg.applyDefaults()
	cfg.ApplyEnv()
	sort.Strings(cfg.Secrets)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type substituter struct {
	lookup  func(string) (string, bool)
	used    map[string]string
	missing []string
}

func (s *substituter) walk(n *yaml.Node) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		n.Value = placeholderRE.ReplaceAllStringFunc(n.Value, func(m string) string {
			name := placeholderRE.FindStringSubmatch(m)[1]
			v, ok := s.lookup(name)
			if !ok {
				if !contains(s.missing, name) {
					s.missing = append(s.missing, name)
				}
				return m
			}
			s.used[name] = v
			return v
		})
		// Quoted scalars stay strings; plain ones are re-resolved so numeric
		// and boolean fields can take placeholders too. The encoder quotes
		// values that would not survive as plain scalars.
		if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0 {
			n.Tag = ""
			n.Style = 0
		}
	}
	for _, c := range n.Content {
		s.walk(c)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
