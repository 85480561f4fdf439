package ir

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Metadata builds the canonical signature string name(t1, t2)->ret.
// Two functions with equal metadata are the same overload.
func Metadata(name string, args []Param, ret DataType) string {
	var b strings.Builder

	b.WriteString(name)
	b.WriteByte('(')

	for i, a := range args {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(a.Type.String())
	}

	b.WriteString(")->")
	b.WriteString(ret.String())

	return b.String()
}

// Mangle derives a stable symbol name from metadata.
func Mangle(meta string) string {
	return fmt.Sprintf("func_%x", xxh3.HashString(meta))
}
