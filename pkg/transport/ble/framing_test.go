package ble

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// TestFragmentReassembleRoundTrip is invariant #3: for every negotiated MTU
// in the range BLE actually offers, fragmenting then reassembling a message
// returns exactly the original bytes and command.
func TestFragmentReassembleRoundTrip(t *testing.T) {
	mtus := []int{20, 23, 64, 256, 512}
	// 2449 = 17 + 128*19 is the largest message that fits at mtu=20: SEQ
	// runs 0..0x7F, so at most 128 continuation frames follow the init frame.
	sizes := []int{0, 1, 17, 20, 63, 500, 2449}

	for _, mtu := range mtus {
		for _, size := range sizes {
			payload := make([]byte, size)
			rand.Read(payload)

			frames, err := Fragment(CmdMsg, payload, mtu)
			if err != nil {
				t.Fatalf("mtu=%d size=%d: Fragment: %v", mtu, size, err)
			}
			for _, f := range frames {
				if len(f) > mtu {
					t.Fatalf("mtu=%d size=%d: frame length %d exceeds mtu", mtu, size, len(f))
				}
			}

			cmd, got, err := Reassemble(frames)
			if err != nil {
				t.Fatalf("mtu=%d size=%d: Reassemble: %v", mtu, size, err)
			}
			if cmd != CmdMsg {
				t.Fatalf("mtu=%d size=%d: cmd = %x, want %x", mtu, size, cmd, CmdMsg)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("mtu=%d size=%d: round trip mismatch", mtu, size)
			}
		}
	}
}

func TestFragmentSingleFrameWhenPayloadFits(t *testing.T) {
	payload := []byte{1, 2, 3}
	frames, err := Fragment(CmdMsg, payload, 64)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
}

func TestReassembleRejectsOutOfOrderSequence(t *testing.T) {
	frames, err := Fragment(CmdMsg, make([]byte, 100), 20)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frames) < 3 {
		t.Fatalf("test setup: expected at least 3 frames, got %d", len(frames))
	}
	// Swap the first two continuation frames to desynchronize SEQ.
	frames[1], frames[2] = frames[2], frames[1]

	if _, _, err := Reassemble(frames); err == nil {
		t.Fatal("expected an error for out-of-order continuation sequence")
	}
}

func TestReassembleRejectsContinuationBeforeInit(t *testing.T) {
	var r Reassembler
	if _, err := r.Feed([]byte{0x00, 0xAA}); err == nil {
		t.Fatal("expected error feeding a continuation frame with no preceding init frame")
	}
}

func TestFeedStreaming(t *testing.T) {
	payload := make([]byte, 300)
	rand.Read(payload)
	frames, err := Fragment(CmdPing, payload, 64)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}

	var r Reassembler
	var done bool
	for i, f := range frames {
		done, err = r.Feed(f)
		if err != nil {
			t.Fatalf("Feed(%d): %v", i, err)
		}
		if done && i != len(frames)-1 {
			t.Fatalf("Feed reported done at frame %d of %d", i, len(frames))
		}
	}
	if !done {
		t.Fatal("Feed never reported done")
	}
	if !bytes.Equal(r.Payload(), payload) {
		t.Fatal("reassembled payload mismatch")
	}
	if r.Command() != CmdPing {
		t.Fatalf("Command() = %x, want %x", r.Command(), CmdPing)
	}
}

func TestFragmentRejectsTooSmallMTU(t *testing.T) {
	if _, err := Fragment(CmdMsg, []byte{1}, 3); err == nil {
		t.Fatal("expected error for mtu below minimum frame overhead")
	}
}
