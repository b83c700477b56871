package ledger

import (
	"fmt"
	"strings"
)

// Kind classifies a terminal job failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindFileRead
	KindParsing
	KindAPI
	KindTimeout
	KindValidation
	KindFileWrite
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknownError",
	KindFileRead:   "fileReadError",
	KindParsing:    "parsingError",
	KindAPI:        "apiError",
	KindTimeout:    "timeoutError",
	KindValidation: "validationError",
	KindFileWrite:  "fileWriteError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknownError"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if strings.EqualFold(name, string(text)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// DefaultSeverity is the severity used when a record does not set one.
func (k Kind) DefaultSeverity() Severity {
	if k == KindValidation {
		return SeverityWarning
	}
	return SeverityError
}

// Advice returns a user-facing hint for the kind.
func (k Kind) Advice() string {
	switch k {
	case KindFileRead:
		return "Check that the subtitle file exists and is readable"
	case KindParsing:
		return "The subtitle file is not valid SRT; check its timing lines and encoding"
	case KindAPI:
		return "The translation API rejected or failed the request; check the API key, quota and service status"
	case KindTimeout:
		return "The translation API did not answer in time; retry later or reduce the batch size"
	case KindValidation:
		return "The translated file does not match the source structure; retranslate it"
	case KindFileWrite:
		return "Make sure the output folder exists and is writable"
	default:
		return "Review the error details and retry"
	}
}

// Severity ranks how much attention a failure needs.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "error"
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	for sev, name := range severityNames {
		if strings.EqualFold(name, string(text)) {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}
