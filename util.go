package memdb

import (
	"fmt"
	"runtime/debug"
	"strings"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

// safelyDeliver calls the listener, turning a panic into an error so that one
// misbehaving listener cannot take down the mutating caller.
func safelyDeliver(l Listener, txn *Transaction) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return l.OnTransaction(txn)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func rpad(s string, n int, pad rune) string {
	rem := n - len(s)
	if rem <= 0 {
		return s
	}
	return s + strings.Repeat(string(pad), rem)
}
