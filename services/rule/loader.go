package rule

import (
	"context"
	"fmt"

	"growth-pipeline/services/growthevent"
)

// Loader resolves the rules that apply to one event.
type Loader struct {
	repo    Repository
	cache   *RuleCache
	matcher *Matcher
}

func NewLoader(repo Repository, cache *RuleCache, matcher *Matcher) *Loader {
	return &Loader{repo: repo, cache: cache, matcher: matcher}
}

func (l *Loader) Load(ctx context.Context, e *growthevent.GrowthEvent) (RuleSet, error) {
	key := RuleSetKey{Business: e.Business, EventKey: e.EventKey}

	set, err := l.cache.Load(key, func() (RuleSet, error) {
		return l.fetch(ctx, key)
	})
	if err != nil {
		return RuleSet{}, err
	}
	return l.matcher.Filter(e, set), nil
}

func (l *Loader) fetch(ctx context.Context, key RuleSetKey) (RuleSet, error) {
	points, err := l.repo.FindPointRules(ctx, key.Business, key.EventKey)
	if err != nil {
		return RuleSet{}, fmt.Errorf("load point rules for %s: %w", key, err)
	}
	experience, err := l.repo.FindExperienceRules(ctx, key.Business, key.EventKey)
	if err != nil {
		return RuleSet{}, fmt.Errorf("load experience rules for %s: %w", key, err)
	}
	badges, err := l.repo.FindBadgeRules(ctx, key.Business, key.EventKey)
	if err != nil {
		return RuleSet{}, fmt.Errorf("load badge rules for %s: %w", key, err)
	}
	return RuleSet{Points: points, Experience: experience, Badges: badges}, nil
}
