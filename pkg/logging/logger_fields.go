package logging

import (
	"fmt"
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration is rendered with time.Duration.String so it stays readable in JSON
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Error records err's message under "error"; a nil error is logged as null
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Component(name string) Field {
	return String("component", name)
}

// Run identifies a sorted run as "level/number"
func Run(level, number int) Field {
	return String("run", fmt.Sprintf("%d/%d", level, number))
}

func Page(n int) Field {
	return Int("page", n)
}

func File(name string) Field {
	return String("file", name)
}

func SummaryLevel(n int) Field {
	return Int("summary_level", n)
}

func Count(n int) Field {
	return Int("count", n)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}
