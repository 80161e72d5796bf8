package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeMatching(t *testing.T) {
	err := NewError(ErrRoomFull, "room is full")
	if !Is(err, ErrRoomFull) {
		t.Fatalf("Is failed on direct error")
	}
	wrapped := fmt.Errorf("context: %w", err)
	if !Is(wrapped, ErrRoomFull) {
		t.Fatalf("Is failed through wrapping")
	}
	if Is(wrapped, ErrNotFound) {
		t.Fatalf("Is matched wrong code")
	}
	if Is(errors.New("plain"), ErrRoomFull) {
		t.Fatalf("Is matched untyped error")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(NewError(ErrAlreadyVoted, "x")) != ErrAlreadyVoted {
		t.Errorf("CodeOf typed error")
	}
	if CodeOf(errors.New("plain")) != ErrInternal {
		t.Errorf("CodeOf untyped error should be internal")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(ErrUnavailable, "llm failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if err.Error() != "llm failed: boom" {
		t.Errorf("message %q", err.Error())
	}
}
