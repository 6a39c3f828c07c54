package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BindingType identifies the kind of endpoint that produced an audit record.
type BindingType string

const (
	BindingSender   BindingType = "SENDER"
	BindingReceiver BindingType = "RECEIVER"
	BindingREST     BindingType = "REST"
)

// Status is the outcome recorded in an audit record.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// LogEvent is the audit record describing one send or one processed
// delivery.
type LogEvent struct {
	TransactionID    string      `json:"transactionId"`
	BindingType      BindingType `json:"bindingType"`
	ComponentName    string      `json:"componentName"`
	HostName         string      `json:"hostName,omitempty"`
	InterfaceName    string      `json:"interfaceName,omitempty"`
	ReceivedPayload  string      `json:"receivedPayload,omitempty"`
	ProcessedPayload string      `json:"processedPayload,omitempty"`
	ReceivedAt       time.Time   `json:"receivedAt"`
	ProcessedAt      time.Time   `json:"processedAt"`
	Status           Status      `json:"status"`
	ErrorCode        string      `json:"errorCode,omitempty"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
	StackTrace       string      `json:"stackTrace,omitempty"`
}

// Failed reports whether the record describes a failure.
func (e LogEvent) Failed() bool { return e.Status == StatusFailed }

// ResultStatus is the outcome handed to the audit record builder.
type ResultStatus struct {
	Status       Status
	ErrorCode    string
	ErrorMessage string
	StackTrace   string
}

// Succeeded returns a SUCCESS result.
func Succeeded() ResultStatus {
	return ResultStatus{Status: StatusSuccess}
}

// Failed returns a FAILED result for err. An empty code is derived from the
// error type. The error chain below err is rendered into StackTrace.
func Failed(code string, err error) ResultStatus {
	if code == "" {
		code = ErrorCode(err)
	}
	rs := ResultStatus{Status: StatusFailed, ErrorCode: code}
	if err == nil {
		return rs
	}
	rs.ErrorMessage = err.Error()
	rs.StackTrace = causeChain(err)
	return rs
}

func causeChain(err error) string {
	var b strings.Builder
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "caused by: %T: %s", cause, cause.Error())
	}
	return b.String()
}
