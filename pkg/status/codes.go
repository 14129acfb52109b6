package status

import "errors"

// Code is the status returned across the binding boundary. Zero is success.
type Code uint8

const (
	OK Code = iota
	PartitionNotFound
	TableCorrupt
	KeyNotFound
	SizeMismatch
	PartitionFull
	IoError
	Corrupt
	OutOfRange
	NotInitialized
	InvalidArgument
	ReadOnly
	Unsupported
	Unauthorized

	Unknown Code = 255
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{PartitionNotFound, ErrPartitionNotFound},
	{TableCorrupt, ErrTableCorrupt},
	{KeyNotFound, ErrKeyNotFound},
	{SizeMismatch, ErrSizeMismatch},
	{PartitionFull, ErrPartitionFull},
	{IoError, ErrIO},
	{Corrupt, ErrCorrupt},
	{OutOfRange, ErrOutOfRange},
	{NotInitialized, ErrNotInitialized},
	{InvalidArgument, ErrInvalidArgument},
	{ReadOnly, ErrReadOnly},
	{Unsupported, ErrUnsupported},
	{Unauthorized, ErrUnauthorized},
}

// CodeOf maps an error to its status code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return Unknown
}

// Err returns the sentinel error for a code, or nil for OK.
func (c Code) Err() error {
	if c == OK {
		return nil
	}
	for _, ce := range codeErrors {
		if ce.code == c {
			return ce.err
		}
	}
	return errUnknown
}

var errUnknown = errors.New("unknown status")

// String returns the taxonomy name of a code.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case PartitionNotFound:
		return "PartitionNotFound"
	case TableCorrupt:
		return "TableCorrupt"
	case KeyNotFound:
		return "KeyNotFound"
	case SizeMismatch:
		return "SizeMismatch"
	case PartitionFull:
		return "PartitionFull"
	case IoError:
		return "IoError"
	case Corrupt:
		return "Corrupt"
	case OutOfRange:
		return "OutOfRange"
	case NotInitialized:
		return "NotInitialized"
	case InvalidArgument:
		return "InvalidArgument"
	case ReadOnly:
		return "ReadOnly"
	case Unsupported:
		return "Unsupported"
	case Unauthorized:
		return "Unauthorized"
	default:
		return "Unknown"
	}
}

// Header carries the numeric status code on every HTTP binding response.
const Header = "X-Flashkv-Status"
