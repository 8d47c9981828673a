package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second

	if got := ExponentialBackoff(0, base, limit); got != base {
		t.Fatalf("attempt 0 backoff = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, limit); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 backoff = %v", got)
	}
	if got := ExponentialBackoff(10, base, limit); got != limit {
		t.Fatalf("attempt 10 backoff = %v, want cap %v", got, limit)
	}
}
