package netmux

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func encodeFrame(msg []byte) []byte {
	scratch := make([]byte, MaxScratchSize)
	prefix := EncodeSize(msg, scratch)
	out := make([]byte, 0, len(prefix)+len(msg))
	out = append(out, prefix...)
	out = append(out, msg...)
	return out
}

func TestDecoderSingleMessageWholeChunk(t *testing.T) {
	var dec Decoder
	msg := []byte("hello world")
	var got [][]byte
	if err := dec.Decode(encodeFrame(msg), func(m []byte) {
		cp := append([]byte(nil), m...)
		got = append(got, cp)
	}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], msg) {
		t.Fatalf("got %v, want [%s]", got, msg)
	}
}

func TestDecoderMultipleMessagesOneChunk(t *testing.T) {
	var dec Decoder
	a, b, c := []byte("aaa"), []byte("bb"), []byte("c")
	buf := append(append(encodeFrame(a), encodeFrame(b)...), encodeFrame(c)...)

	var got [][]byte
	if err := dec.Decode(buf, func(m []byte) {
		got = append(got, append([]byte(nil), m...))
	}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := [][]byte{a, b, c}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("message %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestDecoderSplitAcrossArbitraryChunkBoundaries(t *testing.T) {
	msg := bytes.Repeat([]byte("x"), 5000)
	framed := encodeFrame(msg)

	for chunkSize := 1; chunkSize <= 7; chunkSize++ {
		var dec Decoder
		var got []byte
		delivered := 0
		for i := 0; i < len(framed); i += chunkSize {
			end := i + chunkSize
			if end > len(framed) {
				end = len(framed)
			}
			if err := dec.Decode(framed[i:end], func(m []byte) {
				got = append([]byte(nil), m...)
				delivered++
			}); err != nil {
				t.Fatalf("chunkSize=%d: Decode: %v", chunkSize, err)
			}
		}
		if delivered != 1 {
			t.Fatalf("chunkSize=%d: delivered %d messages, want 1", chunkSize, delivered)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("chunkSize=%d: message mismatch", chunkSize)
		}
	}
}

func TestDecoderRetainsOnlyUndeliveredSuffix(t *testing.T) {
	var dec Decoder
	a, b := []byte("first"), []byte("second")
	framed := append(encodeFrame(a), encodeFrame(b)...)

	// Feed everything except the last byte of b: only "a" should deliver.
	var got [][]byte
	if err := dec.Decode(framed[:len(framed)-1], func(m []byte) {
		got = append(got, append([]byte(nil), m...))
	}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], a) {
		t.Fatalf("got %v, want only %q delivered", got, a)
	}

	// Feed the final byte: "b" should now deliver, and nothing else.
	if err := dec.Decode(framed[len(framed)-1:], func(m []byte) {
		got = append(got, append([]byte(nil), m...))
	}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[1], b) {
		t.Fatalf("got %v, want second delivery %q", got, b)
	}
}

func TestDecoderEmptyDecodeIsNoop(t *testing.T) {
	var dec Decoder
	called := false
	if err := dec.Decode(nil, func([]byte) { called = true }); err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if called {
		t.Fatal("onMessage invoked on empty input")
	}
}

func TestDecoderRejectsUnreasonableLength(t *testing.T) {
	var dec Decoder
	scratch := make([]byte, MaxScratchSize)
	n := binary.PutUvarint(scratch, uint64(maxReasonableFrame+1))
	// The decoder must reject an oversized declared length without ever
	// needing that much body data supplied.
	if err := dec.Decode(scratch[:n], func([]byte) {}); err != ErrInvalidFrame {
		t.Fatalf("Decode with oversized length = %v, want ErrInvalidFrame", err)
	}
}

func TestDecoderHandlesEmptyMessage(t *testing.T) {
	var dec Decoder
	var got [][]byte
	if err := dec.Decode(encodeFrame(nil), func(m []byte) {
		got = append(got, append([]byte(nil), m...))
	}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Fatalf("got %v, want one empty message", got)
	}
}
