package pubsub

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "le-domain-events", "projects/proj/topics/le-domain-events"},
		{"proj", "projects/other/topics/x", "projects/other/topics/x"},
		{"proj", "  ", ""},
		{"", "topic", ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil error should not be retryable")
	}
	if !IsRetryable(errors.New("network blip")) {
		t.Fatalf("plain errors should be retryable")
	}
	if !IsRetryable(status.Error(codes.Unavailable, "down")) {
		t.Fatalf("unavailable should be retryable")
	}
	if IsRetryable(status.Error(codes.NotFound, "topic gone")) {
		t.Fatalf("not found should not be retryable")
	}
}
