package ports

// FileSubscriber delivers change notifications for individual files.
//
// Implementations subscribe at directory granularity and filter to the
// exact file name. Delivery is at-least-once and rapid writes may be
// coalesced into a single notification.
type FileSubscriber interface {
	// Subscribe calls onChange whenever the last-write time of dir/name
	// changes. It fails if dir cannot be watched.
	Subscribe(dir, name string, onChange func()) (Subscription, error)
}

// Subscription is a live FileSubscriber registration.
type Subscription interface {
	// Close releases the subscription. No notifications are delivered
	// after Close returns.
	Close() error
}
