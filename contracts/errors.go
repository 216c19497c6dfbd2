package contracts

import "fmt"

// DecodeError indicates a message body that could not be parsed. Consumers
// treat it as a poison message: reject without requeue so the broker routes
// it to the dead letter queue.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
