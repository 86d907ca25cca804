package pubsub

import "errors"

// ErrClosed is returned by operations on a closed PubSub
var ErrClosed = errors.New("pubsub is closed")
