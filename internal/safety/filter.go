package safety

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// #region rule

// Rule is one deny pattern. Pattern is a Go regular expression matched
// case-insensitively anywhere in the text.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Policy is the reviewer-owned deny list.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultPolicy is the built-in deny list. A false positive only costs one
// nudge; a miss can surface harmful advice, so the patterns are broad.
func DefaultPolicy() Policy {
	return Policy{Rules: []Rule{
		{Name: "self-harm", Pattern: `self[\s-]*harm|hurt(ing)?\s+(your|my)self|cut(ting)?\s+(your|my)self`},
		{Name: "suicide", Pattern: `suicid|kill\s+(your|my)self|end\s+(your|my)\s+life`},
		{Name: "overdose", Pattern: `overdos|too\s+many\s+pills|extra\s+(pills|doses?|tablets)`},
		{Name: "medication", Pattern: `(stop|quit|skip|discontinue|cease|come\s+off|go\s+off)\w*\s+(\w+\s+){0,3}(meds?\b|medication|medicine|pills?\b|prescription|antidepressant|dose)|doubl\w*\s+(\w+\s+){0,3}(dose|medication|meds?\b|pills?\b)`},
		{Name: "sleep-deprivation", Pattern: `skip\w*\s+sleep|no\s+sleep|without\s+sleep(ing)?|all[\s-]*nighter|stay\s+awake\s+all\s+night|(don['’]?t|do\s+not|never)\s+sleep`},
		{Name: "starvation", Pattern: `starv|stop\s+eating|skip\w*\s+(all\s+)?meals|don['’]?t\s+eat|eat\s+nothing|fast(ing)?\s+for\s+(several|multiple|\d+|two|three|four|five)\s+days`},
		{Name: "illegal", Pattern: `illegal|steal|shoplift|drive\s+(drunk|high)|drunk\s+driv`},
		{Name: "violence", Pattern: `violen|\bkill(s|ing|ed)?\b|\bmurder|\bhurt\s+(someone|somebody|him|her|them|others|people|anyone)|\bhit\s+(him|her|them|someone)|\bpunch|\bweapon|\battack\s+(him|her|them|someone)`},
	}}
}

// LoadPolicy reads a YAML policy file:
//
//	rules:
//	  - name: self-harm
//	    pattern: 'self[\s-]*harm'
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read safety policy %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse safety policy %s: %w", path, err)
	}
	if len(p.Rules) == 0 {
		return Policy{}, fmt.Errorf("safety policy %s has no rules", path)
	}
	return p, nil
}

// #endregion rule

// #region filter

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// Filter is a compiled Policy. It is safe for concurrent use.
type Filter struct {
	rules []compiledRule
}

// NewFilter compiles every rule of p. An invalid pattern is an error rather
// than a silently skipped rule.
func NewFilter(p Policy) (*Filter, error) {
	f := &Filter{rules: make([]compiledRule, 0, len(p.Rules))}
	for _, r := range p.Rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile safety rule %q: %w", r.Name, err)
		}
		f.rules = append(f.rules, compiledRule{name: r.Name, re: re})
	}
	return f, nil
}

// Default returns the filter for DefaultPolicy.
func Default() *Filter {
	f, err := NewFilter(DefaultPolicy())
	if err != nil {
		panic(err) // built-in patterns are fixed at compile time
	}
	return f
}

// Blocked reports whether any rule matches action or rationale, and the name
// of the first rule that did.
func (f *Filter) Blocked(action, rationale string) (bool, string) {
	for _, r := range f.rules {
		if r.re.MatchString(action) || r.re.MatchString(rationale) {
			return true, r.name
		}
	}
	return false, ""
}

// #endregion filter
