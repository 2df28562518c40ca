// Package push contains the public domain model and contracts for the push relay:
// the notification record handed in by the XMPP component, the backend identity,
// and the interfaces that backends and their collaborators satisfy.
package push

import (
	"fmt"
	"sync"
	"time"
)

// NotificationExpireTime is how long a provider should hold an undelivered notification.
const NotificationExpireTime = 24 * time.Hour

// Kind names a push provider protocol.
type Kind string

const (
	KindFCM     Kind = "fcm"     // FCM legacy JSON endpoint, server key auth
	KindHTTP    Kind = "http"    // generic JSON over HTTPS, same wire format as KindFCM
	KindAPNS    Kind = "apns"    // Apple push over a persistent certificate session
	KindFCMv1   Kind = "fcm-v1"  // FCM HTTP v1 via the Firebase Admin SDK
	KindWebPush Kind = "webpush" // RFC 8030 Web Push with VAPID
)

// Valid reports whether k is a known provider kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFCM, KindHTTP, KindAPNS, KindFCMv1, KindWebPush:
		return true
	}
	return false
}

// Identity identifies one backend instance: a provider kind serving one app
// registered on one host.
type Identity struct {
	Kind    Kind
	Host    string
	AppName string
}

// ID is the routing key used by collaborators to address the backend.
func (i Identity) ID() string {
	return i.Host + "/" + i.AppName
}

func (i Identity) String() string {
	return fmt.Sprintf("%s(%s)", i.Kind, i.ID())
}

// Field is one key/value pair of a notification payload.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Payload is an ordered, application-defined mapping of string keys to string values.
type Payload []Field

// Collapse returns the payload with one field per key. A repeated key keeps
// the position of its first occurrence and the value of its last.
func (p Payload) Collapse() Payload {
	out := make(Payload, 0, len(p))
	index := make(map[string]int, len(p))
	for _, f := range p {
		if i, seen := index[f.Key]; seen {
			out[i].Value = f.Value
			continue
		}
		index[f.Key] = len(out)
		out = append(out, f)
	}
	return out
}

// Get returns the value of the first field with the given key.
func (p Payload) Get(key string) (string, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Notification describes one push attempt. It is immutable after construction
// and cheap to copy; copies share the same unsubscribe guard, so the callback
// fires at most once for the notification and all of its copies.
type Notification struct {
	Recipient string
	Token     string
	Payload   Payload

	unsubscribe *onceCallback
}

type onceCallback struct {
	once sync.Once
	fn   func()
}

// NewNotification builds a Notification. The payload is copied, with repeated
// keys collapsed, so later changes by the caller are not observed. unsubscribe
// may be nil.
func NewNotification(recipient, token string, payload Payload, unsubscribe func()) Notification {
	return Notification{
		Recipient:   recipient,
		Token:       token,
		Payload:     payload.Collapse(),
		unsubscribe: &onceCallback{fn: unsubscribe},
	}
}

// Unsubscribe signals the collaborator that the device token is permanently invalid.
// Only the first call across all copies reaches the callback.
func (n Notification) Unsubscribe() {
	if n.unsubscribe == nil {
		return
	}
	n.unsubscribe.once.Do(func() {
		if n.unsubscribe.fn != nil {
			n.unsubscribe.fn()
		}
	})
}

// ShortToken is a log-safe prefix of the device token.
func (n Notification) ShortToken() string {
	if len(n.Token) <= 8 {
		return n.Token
	}
	return n.Token[:8]
}

// Batch is an ordered sequence of notifications: the input to a Send, or the
// retry set it returns.
type Batch []Notification
