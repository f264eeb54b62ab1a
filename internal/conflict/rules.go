package conflict

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules maps resource kinds to resolution policies, loaded from the
// policy rules file. Example:
//
//	default: manual
//	resources:
//	  task: merge
//	  board: local
type Rules struct {
	Default   Policy            `yaml:"default"`
	Resources map[string]Policy `yaml:"resources"`
}

// LoadRules reads the policy rules file. An empty path returns nil
// rules (run policy applies everywhere).
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy rules: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing policy rules: %w", err)
	}

	if rules.Default != "" {
		if _, err := ParsePolicy(string(rules.Default)); err != nil {
			return nil, fmt.Errorf("policy rules default: %w", err)
		}
	}

	for resource, p := range rules.Resources {
		if _, err := ParsePolicy(string(p)); err != nil {
			return nil, fmt.Errorf("policy rules resource %q: %w", resource, err)
		}
	}

	return &rules, nil
}

// For returns the policy for a resource kind, falling back to the
// file's default. The second return is false when the file specifies
// nothing for this resource.
func (r *Rules) For(resource string) (Policy, bool) {
	if r == nil {
		return "", false
	}

	if p, ok := r.Resources[resource]; ok {
		return p, true
	}

	if r.Default != "" {
		return r.Default, true
	}

	return "", false
}
