package netmux

import (
	"bytes"
	"testing"
)

func TestNoiseSessionHandshakeAndSeal(t *testing.T) {
	initiator, err := newNoiseSession(true)
	if err != nil {
		t.Fatalf("newNoiseSession(initiator): %v", err)
	}
	responder, err := newNoiseSession(false)
	if err != nil {
		t.Fatalf("newNoiseSession(responder): %v", err)
	}

	msg1, err := initiator.writeMessage()
	if err != nil {
		t.Fatalf("initiator.writeMessage: %v", err)
	}
	if initiator.complete {
		t.Fatal("initiator reports complete after only one NN message")
	}

	msg2, err := responder.readMessage(msg1)
	if err != nil {
		t.Fatalf("responder.readMessage(msg1): %v", err)
	}
	if !responder.complete {
		t.Fatal("responder should be complete after replying to msg1")
	}
	if msg2 == nil {
		t.Fatal("responder owed a reply message")
	}

	if out, err := initiator.readMessage(msg2); err != nil {
		t.Fatalf("initiator.readMessage(msg2): %v", err)
	} else if out != nil {
		t.Fatal("initiator should not owe a further message after msg2")
	}
	if !initiator.complete {
		t.Fatal("initiator should be complete after reading msg2")
	}

	plaintext := []byte("hello over an authenticated channel")
	sealed, err := initiator.seal(plaintext)
	if err != nil {
		t.Fatalf("initiator.seal: %v", err)
	}
	opened, err := responder.open(sealed)
	if err != nil {
		t.Fatalf("responder.open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}

	reply := []byte("reply the other way")
	sealedReply, err := responder.seal(reply)
	if err != nil {
		t.Fatalf("responder.seal: %v", err)
	}
	openedReply, err := initiator.open(sealedReply)
	if err != nil {
		t.Fatalf("initiator.open: %v", err)
	}
	if !bytes.Equal(openedReply, reply) {
		t.Fatalf("got %q, want %q", openedReply, reply)
	}
}

func TestNoiseSessionRejectsTamperedCiphertext(t *testing.T) {
	initiator, _ := newNoiseSession(true)
	responder, _ := newNoiseSession(false)

	msg1, _ := initiator.writeMessage()
	msg2, _ := responder.readMessage(msg1)
	if _, err := initiator.readMessage(msg2); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	sealed, err := initiator.seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := responder.open(tampered); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}
