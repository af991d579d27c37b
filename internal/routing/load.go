package routing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

// File is the on-disk shape of a route table override.
type File struct {
	Rules      []Rule   `yaml:"rules"`
	Public     []string `yaml:"public"`
	AuthRoutes []string `yaml:"auth_routes"`
}

// LoadFile reads a YAML route table. Missing public or auth lists fall back
// to the built-in ones.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routing: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML route table.
func Parse(raw []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("routing: decode table: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("routing: table has no rules")
	}
	for i, rule := range f.Rules {
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("routing: rule %d: %w", i, err)
		}
	}
	public := f.Public
	if len(public) == 0 {
		public = DefaultPublic()
	}
	auth := f.AuthRoutes
	if len(auth) == 0 {
		auth = DefaultAuthRoutes()
	}
	return New(f.Rules, public, auth), nil
}

func validateRule(rule Rule) error {
	if !strings.HasPrefix(rule.Prefix, "/") {
		return fmt.Errorf("prefix %q must start with /", rule.Prefix)
	}
	for _, p := range rule.Permissions {
		if _, _, ok := rbac.ParsePermission(p); !ok {
			return fmt.Errorf("permission %q is not <action>:<resource>", p)
		}
	}
	return nil
}
