package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/siltkv/smallset/pkg/smallstore"
)

func main() {
	tmpDir := filepath.Join(os.TempDir(), "smallset-demo")
	defer os.RemoveAll(tmpDir)

	fmt.Println("=== smallset demo ===")
	fmt.Printf("data directory: %s\n\n", tmpDir)

	demoBasicPutGetDelete(filepath.Join(tmpDir, "basic.db"))
	demoRecoveryAfterReopen(filepath.Join(tmpDir, "recovery.db"))
	demoFIFOEvictionUnderPressure(filepath.Join(tmpDir, "eviction.db"))

	fmt.Println("\n=== demo completed successfully ===")
}

// demoBasicPutGetDelete exercises Put/Get/Delete against a freshly opened
// store, the everyday path.
func demoBasicPutGetDelete(path string) {
	fmt.Println("1. basic put/get/delete")

	s, err := smallstore.Open(smallstore.Options{Path: path, NumSets: 16})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer s.Close()

	testData := map[string]string{
		"user:1001": "Alice",
		"user:1002": "Bob",
		"user:1003": "Charlie",
		"user:1004": "David",
		"user:1005": "Eve",
	}

	for k, v := range testData {
		if err := s.Put([]byte(k), []byte(v)); err != nil {
			log.Fatalf("put %s: %v", k, err)
		}
		fmt.Printf("  put: %s = %s\n", k, v)
	}

	for k, want := range testData {
		got, found, err := s.Get([]byte(k))
		if err != nil {
			log.Fatalf("get %s: %v", k, err)
		}
		if !found || string(got) != want {
			log.Fatalf("get %s: found=%v got=%q want=%q", k, found, got, want)
		}
	}
	fmt.Println("  all keys read back correctly")

	const deleted = "user:1003"
	if err := s.Delete([]byte(deleted)); err != nil {
		log.Fatalf("delete %s: %v", deleted, err)
	}
	if _, found, err := s.Get([]byte(deleted)); err != nil || found {
		log.Fatalf("expected %s to be gone, found=%v err=%v", deleted, found, err)
	}
	fmt.Printf("  deleted %s, confirmed absent\n\n", deleted)
}

// demoRecoveryAfterReopen writes data, flushes it to disk, closes the
// store, then reopens it and confirms the data survived — the crash
// recovery path a real deployment depends on.
func demoRecoveryAfterReopen(path string) {
	fmt.Println("2. recovery after close and reopen")

	s, err := smallstore.Open(smallstore.Options{Path: path, NumSets: 16})
	if err != nil {
		log.Fatalf("open: %v", err)
	}

	testData := map[string]string{
		"session:a": "token-a",
		"session:b": "token-b",
		"session:c": "token-c",
	}
	for k, v := range testData {
		if err := s.Put([]byte(k), []byte(v)); err != nil {
			log.Fatalf("put %s: %v", k, err)
		}
	}
	fmt.Printf("  wrote %d entries\n", len(testData))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := s.Flush(ctx); err != nil {
		cancel()
		log.Fatalf("flush: %v", err)
	}
	cancel()
	fmt.Println("  flushed to disk")

	if err := s.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
	fmt.Println("  closed")

	reopened, err := smallstore.Open(smallstore.Options{Path: path, NumSets: 16})
	if err != nil {
		log.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	for k, want := range testData {
		got, found, err := reopened.Get([]byte(k))
		if err != nil {
			log.Fatalf("get %s after reopen: %v", k, err)
		}
		if !found || string(got) != want {
			log.Fatalf("get %s after reopen: found=%v got=%q want=%q", k, found, got, want)
		}
		fmt.Printf("  recovered %s = %s\n", k, got)
	}
	fmt.Println()
}

// demoFIFOEvictionUnderPressure fills a small, constrained store past its
// capacity and shows that the oldest entries are evicted FIFO while the
// most recent writes survive.
func demoFIFOEvictionUnderPressure(path string) {
	fmt.Println("3. FIFO eviction under capacity pressure")

	// One set, a small page: easy to overflow with a handful of writes.
	s, err := smallstore.Open(smallstore.Options{
		Path:     path,
		NumSets:  1,
		PageSize: 512,
	})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer s.Close()

	const count = 20
	value := bytes.Repeat([]byte{'x'}, 40)
	for i := 0; i < count; i++ {
		key := []byte(fmt.Sprintf("k-%02d", i))
		if err := s.Put(key, value); err != nil {
			log.Fatalf("put %d: %v", i, err)
		}
	}

	survivors, evicted := 0, 0
	for i := 0; i < count; i++ {
		key := []byte(fmt.Sprintf("k-%02d", i))
		_, found, err := s.Get(key)
		if err != nil {
			log.Fatalf("get %d: %v", i, err)
		}
		if found {
			survivors++
		} else {
			evicted++
		}
	}
	fmt.Printf("  wrote %d entries into a 512-byte page: %d survived, %d evicted\n\n", count, survivors, evicted)
}
