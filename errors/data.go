package errors

import (
	"encoding/json"
	"fmt"
)

// ErrDataI lets an *Error carry structured, loggable context (e.g. the peer address
// and disconnect reason for ERR_SLOW_CONSUMER) without widening Error's own fields.
type ErrDataI interface {
	Error() string
	GetData(key string) interface{}
	SetData(key string, value interface{})
}

// ErrData is the generic, map-backed ErrDataI implementation.
type ErrData map[string]interface{}

func (e *ErrData) Error() string {
	return fmt.Sprintf(" %v", *e)
}

func (e *ErrData) SetData(key string, value interface{}) {
	if e == nil {
		return
	}

	(*e)[key] = value
}

func (e *ErrData) GetData(key string) interface{} {
	if e == nil {
		return nil
	}

	return (*e)[key]
}

func (e *ErrData) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(*e))
}
