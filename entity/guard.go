package entity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vidfeed/fetchcache/cache"
)

const (
	// ConnectWindow is how long a social login or account connect for one
	// provider identity is refused after the first attempt.
	ConnectWindow = 30 * time.Second
	// NotificationWindow is how long an identical notification is suppressed.
	NotificationWindow = 10 * time.Minute
)

// ConnectGuard rejects replays of a social-provider login or connect.
type ConnectGuard struct {
	lock   *cache.Lock
	window time.Duration
}

func NewConnectGuard(layer *cache.Layer) (*ConnectGuard, error) {
	lock, err := cache.NewLock(layer, mustDefinition(ComponentConnectGuard))
	if err != nil {
		return nil, err
	}
	return &ConnectGuard{lock: lock, window: ConnectWindow}, nil
}

// guardPart escapes the separator so distinct tuples never share an id.
var guardPart = strings.NewReplacer("%", "%25", ":", "%3A")

func connectID(provider, providerUserID string) string {
	return guardPart.Replace(strings.ToLower(provider)) + ":" + guardPart.Replace(providerUserID)
}

// Begin reports whether this is the first attempt for the provider identity
// within the window. Callers must reject the request when it returns false.
func (g *ConnectGuard) Begin(ctx context.Context, provider, providerUserID string) (bool, error) {
	return g.lock.Acquire(ctx, connectID(provider, providerUserID), g.window)
}

// Flush releases the guard early, for a connect that failed before doing anything.
func (g *ConnectGuard) Flush(ctx context.Context, provider, providerUserID string) error {
	return g.lock.Flush(ctx, connectID(provider, providerUserID))
}

// NotificationGuard stops the same notification reaching a user twice within
// NotificationWindow.
type NotificationGuard struct {
	lock   *cache.Lock
	window time.Duration
}

func NewNotificationGuard(layer *cache.Layer) (*NotificationGuard, error) {
	lock, err := cache.NewLock(layer, mustDefinition(ComponentNotificationGuard))
	if err != nil {
		return nil, err
	}
	return &NotificationGuard{lock: lock, window: NotificationWindow}, nil
}

func notificationID(userID int64, kind, subjectID string) string {
	return strconv.FormatInt(userID, 10) + ":" + guardPart.Replace(kind) + ":" + guardPart.Replace(subjectID)
}

// ShouldSend reports whether the notification kind about subjectID may be
// sent to userID now. A true result claims the window.
func (g *NotificationGuard) ShouldSend(ctx context.Context, userID int64, kind, subjectID string) (bool, error) {
	return g.lock.Acquire(ctx, notificationID(userID, kind, subjectID), g.window)
}

func (g *NotificationGuard) Flush(ctx context.Context, userID int64, kind, subjectID string) error {
	return g.lock.Flush(ctx, notificationID(userID, kind, subjectID))
}
