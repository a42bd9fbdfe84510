// Package notify is the change-notification channel between writers and
// dashboard view models. Notifications carry no payload: a delivery means
// "something in this table changed, re-query". Delivery is at-least-once
// and unordered.
package notify

import "context"

// Table names used on the wire.
const (
	TablePatients    = "patients"
	TableAssignments = "assignments"
	TableNGOs        = "ngos"
)

// Handler is invoked once per delivered change notification.
type Handler func(table string)

// Subscription is the live handle owned by exactly one subscriber.
// Unsubscribe must be safe to call more than once; only the first call
// releases the underlying resources.
type Subscription interface {
	Unsubscribe()
}

// Source delivers change notifications for a set of tables.
type Source interface {
	Subscribe(ctx context.Context, tables []string, h Handler) (Subscription, error)
}

// Publisher is the write side: services publish after every committed
// mutation so subscribed views reload.
type Publisher interface {
	Publish(ctx context.Context, table string) error
}
