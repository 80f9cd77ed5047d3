package redisq

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQueueName      = errors.New("redisq: invalid queue name")
	ErrInvalidQueueType      = errors.New("redisq: invalid queue type")
	ErrTriggersNotConfigured = errors.New("redisq: triggers not configured")
	ErrHandlerPanic          = errors.New("redisq: handler panicked")
)

// CodecError reports a payload that could not be encoded, decoded or
// unwrapped from its envelope. The payload is dropped for that attempt.
type CodecError struct {
	Queue string
	Op    string // "encode", "decode", "unwrap" or "wrap"
	Raw   []byte
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("redisq: %s %s: %v", e.Queue, e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// StoreError reports a failed command against the list store.
type StoreError struct {
	Queue string
	Op    string // redis command, e.g. "BRPOP"
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("redisq: %s %s: %v", e.Queue, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// PoisonMessageError is reported when a payload failed with a retry count
// equal to the retry budget. The payload is not requeued.
type PoisonMessageError struct {
	Queue      string
	Payload    any
	Raw        []byte
	RetryCount int
	Err        error // last handler error
}

func (e *PoisonMessageError) Error() string {
	return fmt.Sprintf("redisq: %s poison message after %d retries: %v", e.Queue, e.RetryCount, e.Err)
}

func (e *PoisonMessageError) Unwrap() error { return e.Err }

// RequeueError is reported when a failed delivery could not be written back
// to the list, for example because Stop closed the client while the handler
// ran. The entry is no longer on the list; Raw holds the encoded payload.
type RequeueError struct {
	Queue      string
	Payload    any
	Raw        []byte
	RetryCount int   // retry count of the failed delivery
	Cause      error // handler error
	Err        error // store or wrap error
}

func (e *RequeueError) Error() string {
	return fmt.Sprintf("redisq: %s requeue at retry %d failed: %v (handler: %v)", e.Queue, e.RetryCount, e.Err, e.Cause)
}

func (e *RequeueError) Unwrap() error { return e.Err }
