//go:build !cgo_sqlite

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNativeDSN(t *testing.T) {
	assert.Equal(t, "plain.db", nativeDSN("plain.db"))
	assert.Equal(t,
		"./data/j.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		nativeDSN("./data/j.db?_journal_mode=WAL&_busy_timeout=5000"))
	assert.Equal(t, "x.db?_pragma=synchronous(NORMAL)&cache=shared", nativeDSN("x.db?_synchronous=NORMAL&cache=shared"))
}
