package retry

import (
	"encoding/json"
	"strings"

	"coordinatorcore/internal/coordinatorerr"
)

// XcmEventError is the decoded shape of an XCM failure blob carried inside
// an emitted on-chain event.
type XcmEventError struct {
	ErrorKind   coordinatorerr.Kind
	Message     string
	ShouldRetry bool
}

type rawXcmError struct {
	Reason string `json:"reason"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

// ParseXcmEventError decodes the error blob carried inside an emitted
// XCM-failure event, accepting either raw bytes (a JSON object) or a plain
// string. A message matching a permanent pattern is PermanentRemote with
// ShouldRetry false; any other non-empty message is XcmExecute with
// ShouldRetry true; an empty or undecodable blob is Unknown.
func ParseXcmEventError(raw interface{}) XcmEventError {
	var message string

	switch v := raw.(type) {
	case string:
		message = extractFromJSONOrPlain(v)
	case []byte:
		message = extractFromJSONOrPlain(string(v))
	default:
		message = ""
	}

	if message == "" {
		return XcmEventError{ErrorKind: coordinatorerr.KindUnknown, Message: "empty xcm error blob", ShouldRetry: true}
	}

	lower := strings.ToLower(message)
	for _, p := range permanentPatterns {
		if strings.Contains(lower, p) {
			return XcmEventError{ErrorKind: coordinatorerr.KindPermanentRemote, Message: message, ShouldRetry: false}
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return XcmEventError{ErrorKind: coordinatorerr.KindXcmExecute, Message: message, ShouldRetry: true}
		}
	}
	return XcmEventError{ErrorKind: coordinatorerr.KindXcmExecute, Message: message, ShouldRetry: true}
}

func extractFromJSONOrPlain(s string) string {
	var parsed rawXcmError
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		switch {
		case parsed.Data.Message != "":
			return parsed.Data.Message
		case parsed.Error.Message != "":
			return parsed.Error.Message
		case parsed.Reason != "":
			return parsed.Reason
		}
	}
	return s
}
