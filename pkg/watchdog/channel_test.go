package watchdog

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFrameLog(t *testing.T) {
	frame := frameLog("build.log", []byte("hello"))
	if !bytes.HasPrefix(frame, []byte("log\x00build.log\x00")) {
		t.Errorf("frame = %q, missing expected header", frame)
	}
	if !bytes.HasSuffix(frame, []byte("hello")) {
		t.Errorf("frame = %q, missing payload", frame)
	}
}

func TestReadFrom_Incremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	payload, offset, err := readFrom(path, 0)
	if err != nil {
		t.Fatalf("readFrom: %v", err)
	}
	if string(payload) != "first" {
		t.Errorf("payload = %q, want first", payload)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("-second"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	payload, _, err = readFrom(path, offset)
	if err != nil {
		t.Fatalf("readFrom (second read): %v", err)
	}
	if string(payload) != "-second" {
		t.Errorf("payload = %q, want -second", payload)
	}
}

func TestReadFrom_NoNewData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log")
	if err := os.WriteFile(path, []byte("stable"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	payload, _, err := readFrom(path, int64(len("stable")))
	if err != nil {
		t.Fatalf("readFrom: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("expected no new payload, got %q", payload)
	}
}

func TestChannel_KillFrameTriggersCallback(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var once sync.Once
	ready := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()
		once.Do(func() { close(ready) })
		_ = conn.WriteMessage(websocket.TextMessage, []byte("kill"))
		// Keep the handler alive briefly so the client has time to read.
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	var killed int32
	ch := New(wsURL, "", func() { atomic.StoreInt32(&killed, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ch.Run(ctx)
		close(done)
	}()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("server never accepted a connection")
	}

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&killed) == 0 {
		select {
		case <-deadline:
			t.Fatal("kill callback was never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestChannel_PollLogsOnceSendsNewBytesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.log")
	if err := os.WriteFile(path, []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ch := &Channel{LogDir: dir}
	offsets := map[string]int64{}
	ch.pollLogsOnce(offsets) // no connection: sendBinary is a no-op, but offsets still advance

	if offsets["build.log"] != int64(len("line one\n")) {
		t.Errorf("offset = %d, want %d", offsets["build.log"], len("line one\n"))
	}
}
