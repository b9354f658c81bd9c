package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Message(t *testing.T) {
	e := New(NoBlock, "height=%d", 5)
	want := "no block: height=5"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	e := Wrap(StoreError, cause, "region=4")

	if !errors.Is(e, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestOf_MatchesKind(t *testing.T) {
	err := fmt.Errorf("context: %w", New(DupTransaction, "abcd"))
	if !Of(err, DupTransaction) {
		t.Error("Of should find DupTransaction through fmt.Errorf wrapping")
	}
	if Of(err, NoBlock) {
		t.Error("Of should not match an unrelated kind")
	}
}

func TestIs_SentinelComparison(t *testing.T) {
	err := New(BannedNode, "peer 0x1234")
	if !errors.Is(err, ErrBannedNode) {
		t.Error("errors.Is should match same-kind sentinel regardless of detail")
	}
	if errors.Is(err, ErrEarlyStatus) {
		t.Error("errors.Is should not match a different kind")
	}
}
