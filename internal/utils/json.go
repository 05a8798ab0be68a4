package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DecodeJSONResponse reads and decodes a response body, guarding
// against runaway payloads.
func DecodeJSONResponse(resp *http.Response, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	defer resp.Body.Close()

	if len(body) == 0 || dst == nil {
		return nil
	}
	if err = json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// MustMarshal is for payloads built from our own types, where a
// marshal failure is a programming error.
func MustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("marshal of internal value failed: " + err.Error())
	}
	return b
}
