// Package machineid generates the process-wide writer identity stamped on
// every catalog row a process inserts (spec.md §6 "Machine identity").
package machineid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
)

var (
	once sync.Once
	id   string
)

// Get returns the machine id for this process: hostname + "-" + a random
// 8-hex suffix, generated once and cached for the process lifetime.
func Get() string {
	once.Do(func() {
		id = generate()
	})
	return id
}

func generate() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%s", host, randomSuffix())
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
