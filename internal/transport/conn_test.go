package transport

import (
	"net"
	"testing"
)

func TestNetSenderSendWritesToConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := &netSender{conn: client}
	done := make(chan struct{})
	go func() {
		if err := sender.Send([]byte("hello")); err != nil {
			t.Errorf("Send: %v", err)
		}
		close(done)
	}()

	buf := make([]byte, 5)
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	<-done
	if string(buf) != "hello" {
		t.Errorf("read %q, want hello", buf)
	}
}

func TestNetSenderRemoteAddrNilConn(t *testing.T) {
	sender := &netSender{}
	if sender.RemoteAddr() != "" {
		t.Errorf("RemoteAddr() with a nil conn = %q, want empty", sender.RemoteAddr())
	}
}

func TestNetSenderRemoteAddrReportsConnAddr(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := &netSender{conn: client}
	if sender.RemoteAddr() != client.RemoteAddr().String() {
		t.Errorf("RemoteAddr() = %q, want %q", sender.RemoteAddr(), client.RemoteAddr().String())
	}
}

func TestNetSenderClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	sender := &netSender{conn: client}
	if err := sender.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := client.Write([]byte("x")); err == nil {
		t.Error("expected writes to a closed conn to fail")
	}
}
