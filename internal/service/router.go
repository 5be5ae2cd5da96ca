package service

import (
	"log/slog"
	"regexp"

	"github.com/Strob0t/CodeHive/internal/domain/routing"
)

type compiledRule struct {
	re     *regexp.Regexp
	worker string
}

// Router maps task text to a worker name using ordered pattern rules.
type Router struct {
	rules         []compiledRule
	defaultWorker string
	exists        func(name string) bool
}

// NewRouter compiles rules case-insensitively. Rules with invalid patterns
// are dropped. exists reports whether a worker is currently configured.
func NewRouter(rules []routing.Rule, defaultWorker string, exists func(string) bool) *Router {
	r := &Router{defaultWorker: defaultWorker, exists: exists}
	for _, rule := range rules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			slog.Debug("skipping invalid routing pattern", "pattern", rule.Pattern, "error", err)
			continue
		}
		r.rules = append(r.rules, compiledRule{re: re, worker: rule.Worker})
	}
	return r
}

// Route returns the worker for text. The first rule that matches anywhere in
// text and names an existing worker wins; otherwise the default is returned.
// ok is false when nothing matched and no default is configured.
func (r *Router) Route(text string) (worker string, ok bool) {
	for _, rule := range r.rules {
		if !rule.re.MatchString(text) {
			continue
		}
		if r.exists != nil && !r.exists(rule.worker) {
			continue
		}
		return rule.worker, true
	}
	if r.defaultWorker == "" {
		return "", false
	}
	return r.defaultWorker, true
}

// Default returns the configured default worker.
func (r *Router) Default() string {
	return r.defaultWorker
}
