package redisq

import (
	"encoding/json"
	"errors"
)

var (
	errNegativeRetryCount = errors.New("negative retry count")
	errMissingPayload     = errors.New("envelope without payload")
)

// envelope is the record stored in the list for every payload.
type envelope struct {
	RetryCount int    `json:"rc"`
	Payload    []byte `json:"p"`
}

// rawEnvelope tells an absent or null "p" apart from an empty payload.
type rawEnvelope struct {
	RetryCount int     `json:"rc"`
	Payload    *[]byte `json:"p"`
}

func wrap(payload []byte, retryCount int) ([]byte, error) {
	if retryCount < 0 {
		return nil, errNegativeRetryCount
	}
	if payload == nil {
		payload = []byte{}
	}
	return json.Marshal(envelope{RetryCount: retryCount, Payload: payload})
}

func unwrap(raw []byte) ([]byte, int, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	if env.Payload == nil {
		return nil, 0, errMissingPayload
	}
	if env.RetryCount < 0 {
		return nil, 0, errNegativeRetryCount
	}
	return *env.Payload, env.RetryCount, nil
}

// shouldRequeue reports whether a failed delivery with retryCount goes back
// on the list under the given budget.
func shouldRequeue(retryCount, budget int) bool {
	return retryCount < budget
}
