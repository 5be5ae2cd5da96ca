// Package routing defines the pattern rules that map task text to workers.
package routing

// Rule sends tasks whose text matches Pattern to Worker. Rules are ordered;
// the first match wins.
type Rule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Worker  string `json:"worker" yaml:"worker"`
}
