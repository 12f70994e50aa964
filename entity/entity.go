// Package entity holds the concrete caches of the social-video backend. Each
// one declares its cache.Definition once and adapts a source-of-truth
// interface to the generic templates in package cache.
package entity

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vidfeed/fetchcache/cache"
)

// ErrNotFound is returned by sources when the requested record does not
// exist. Caches turn it into found=false rather than an error.
var ErrNotFound = errors.New("entity: not found")

// Component tags. They are part of every key, so renaming one orphans the
// entries written under the old name.
const (
	ComponentUser              = "user"
	ComponentUserSecret        = "user_secret"
	ComponentPost              = "post"
	ComponentPostCount         = "post_count"
	ComponentReplyPage         = "reply_page"
	ComponentUserSearch        = "user_search"
	ComponentSystemConfig      = "system_config"
	ComponentSecureToken       = "secure_token"
	ComponentShareLink         = "share_link"
	ComponentConnectGuard      = "connect_guard"
	ComponentNotificationGuard = "notification_guard"
)

var definitions = map[string]cache.Definition{
	ComponentUser:              {Component: ComponentUser, Tier: cache.TierMedium},
	ComponentUserSecret:        {Component: ComponentUserSecret, Tier: cache.TierMedium},
	ComponentPost:              {Component: ComponentPost, Tier: cache.TierMedium},
	ComponentPostCount:         {Component: ComponentPostCount, Tier: cache.TierLarge},
	ComponentReplyPage:         {Component: ComponentReplyPage, Tier: cache.TierVerySmall},
	ComponentUserSearch:        {Component: ComponentUserSearch, Tier: cache.TierVerySmall},
	ComponentSystemConfig:      {Component: ComponentSystemConfig, Tier: cache.TierLarge, Backend: cache.KindLocal},
	ComponentSecureToken:       {Component: ComponentSecureToken, Tier: cache.TierLarge, Backend: cache.KindLocal},
	ComponentShareLink:         {Component: ComponentShareLink, Tier: cache.TierVerySmall, CacheMissing: true},
	ComponentConnectGuard:      {Component: ComponentConnectGuard, Tier: cache.TierSmall},
	ComponentNotificationGuard: {Component: ComponentNotificationGuard, Tier: cache.TierSmall},
}

// Definition returns the definition registered for component.
func Definition(component string) (cache.Definition, bool) {
	def, ok := definitions[component]
	return def, ok
}

// Components returns every registered component tag, sorted.
func Components() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Guards returns the components that hold markers taken with cache.Lock
// rather than cached values.
func Guards() []string {
	return []string{ComponentConnectGuard, ComponentNotificationGuard}
}

func mustDefinition(component string) cache.Definition {
	def, ok := definitions[component]
	if !ok {
		panic("entity: no definition for " + component)
	}
	return def
}

// notFound adapts a single-record lookup to the (value, found, error)
// shape of cache.Invoker.
func notFound[T any](val T, err error) (T, bool, error) {
	if errors.Is(err, ErrNotFound) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val, true, nil
}
