package main

import (
	"errors"
	"fmt"
)

// returned by a QueueClient when the queue was deleted or renamed, it is never retried
var ErrQueueNotFound = errors.New("queue does not exist")

// wraps a consumer failure, the messages of that batch are left on the queue
type DispatchError struct {
	QueueURL string
	Count    int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of %d message(s) from %s failed: %v", e.Count, e.QueueURL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
