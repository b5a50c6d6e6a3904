package logging

import (
	"bytes"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// PlainFormatter is used by the command line tools. Info and debug lines are the bare message so
// that reports stay readable; warnings and errors get a level prefix. Fields follow as sorted
// key=value pairs, without the stack trace.
type PlainFormatter struct{}

func (f *PlainFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	if entry.Level <= log.WarnLevel {
		b.WriteString(strings.ToUpper(entry.Level.String()))
		b.WriteString(": ")
	}
	b.WriteString(entry.Message)

	keys := maps.Keys(entry.Data)
	slices.Sort(keys)
	for _, key := range keys {
		if key == StacktraceField {
			continue
		}
		value := entry.Data[key]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		fmt.Fprintf(b, " %s=%v", key, value)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
