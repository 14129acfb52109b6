package logging

import (
	"fmt"
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain fields

func Component(name string) Field {
	return String("component", name)
}

func Partition(name string) Field {
	return String("partition", name)
}

func Namespace(ns string) Field {
	return String("namespace", ns)
}

func Key(key string) Field {
	return String("key", key)
}

func Unit(index int) Field {
	return Int("unit", index)
}

// Offset renders a device offset in hex, the way flash maps are read.
func Offset(off int64) Field {
	return String("offset", fmt.Sprintf("0x%x", off))
}

func Seq(seq uint64) Field {
	return Uint64("seq", seq)
}

func Size(n int) Field {
	return Int("size", n)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}
