// Package remote speaks to a typestore gateway over HTTP: documents and
// queries go through JSON endpoints and live subscriptions through a
// websocket. Server exposes any driver.Driver as such a gateway.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// Routes
const (
	documentPrefix = "/api/v1/"
	queryPath      = "/api/v1/query"
	countPath      = "/api/v1/count"
	writePath      = "/api/v1/write"
	commitPath     = "/api/v1/commit"
	realtimePath   = "/realtime/ws"
	healthPath     = "/health"
)

// Message types
const (
	TypeAuth           = "auth"
	TypeAuthAck        = "auth_ack"
	TypeSubscribe      = "subscribe"
	TypeSubscribeAck   = "subscribe_ack"
	TypeUnsubscribe    = "unsubscribe"
	TypeUnsubscribeAck = "unsubscribe_ack"
	TypeSnapshot       = "snapshot"
	TypeError          = "error"
)

// BaseMessage is the envelope for all realtime messages
type BaseMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type SubscribePayload struct {
	Request model.Request `json:"request"`
}

type UnsubscribePayload struct {
	ID string `json:"id"`
}

// SnapshotPayload carries the full result of a subscription (Server -> Client).
// A get result holds one entry, null when the document is missing.
type SnapshotPayload struct {
	SubID     string           `json:"subId"`
	Documents []*driver.RawDoc `json:"documents"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type QueryRequest struct {
	Request model.Request `json:"request"`
}

type QueryResponse struct {
	Documents []*driver.RawDoc `json:"documents"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type WriteRequest struct {
	Ops []model.WriteOp `json:"ops"`
}

// ReadVersion is a document version observed by a transaction, 0 when the
// document was missing.
type ReadVersion struct {
	Ref     model.Ref `json:"ref"`
	Version int64     `json:"version"`
}

// CommitRequest applies Ops only when every read is still at its version.
type CommitRequest struct {
	Reads []ReadVersion   `json:"reads"`
	Ops   []model.WriteOp `json:"ops"`
}

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnsupported   = "UNSUPPORTED"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ErrUnauthorized is returned when the gateway rejects the token.
var ErrUnauthorized = errors.New("unauthorized")

// errStaleRead aborts a commit whose reads changed.
var errStaleRead = errors.New("stale read")

// classify maps an error to a status and a code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, errStaleRead), errors.Is(err, model.ErrTransactionConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, model.ErrUnsupported):
		return http.StatusNotImplemented, ErrCodeUnsupported
	case errors.Is(err, model.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case model.IsQueryError(err), errors.Is(err, model.ErrInvalidQuery), errors.Is(err, model.ErrInvalidID),
		errors.Is(err, model.ErrInvalidCursor):
		return http.StatusBadRequest, ErrCodeBadRequest
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// describe is the message sent for err, without the driver error prefix the
// receiving side adds again.
func describe(err error) string {
	var de *model.DriverError
	if errors.As(err, &de) {
		return de.Err.Error()
	}
	return err.Error()
}

// decodeError turns an error response back into an error matching the
// sentinel the gateway classified.
func decodeError(status int, e APIError) error {
	var base error
	switch e.Code {
	case ErrCodeNotFound:
		base = model.ErrNotFound
	case ErrCodeConflict:
		base = model.ErrTransactionConflict
	case ErrCodeUnsupported:
		base = model.ErrUnsupported
	case ErrCodeUnavailable:
		base = model.ErrClosed
	case ErrCodeBadRequest:
		base = model.ErrInvalidQuery
	case ErrCodeUnauthorized:
		base = ErrUnauthorized
	default:
		return fmt.Errorf("gateway returned %d: %s", status, e.Message)
	}
	msg := e.Message
	if msg == base.Error() {
		msg = ""
	}
	msg = strings.TrimSuffix(msg, ": "+base.Error())
	if msg == "" {
		return base
	}
	return fmt.Errorf("%s: %w", msg, base)
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
