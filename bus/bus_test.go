package bus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Stop()

	received := make(chan CameraStatus, 1)
	if _, err := SubscribeJSON(b, CameraStatusSubject("front-door"), func(s CameraStatus) {
		received <- s
	}); err != nil {
		t.Fatalf("SubscribeJSON() error = %v", err)
	}

	want := CameraStatus{CameraID: "front-door", Status: "streaming", At: time.Now().UTC()}
	if err := b.Publish(CameraStatusSubject("front-door"), want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.CameraID != want.CameraID || got.Status != want.Status {
			t.Fatalf("received = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestSubjectBuilders(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"camera status", CameraStatusSubject("c1"), "camera.c1.status"},
		{"recorder start", RecorderStartSubject("c1"), "recorder.c1.start"},
		{"recorder stop", RecorderStopSubject("c1"), "recorder.c1.stop"},
		{"recorder complete", RecorderCompleteSubject("c1"), "recorder.c1.complete"},
		{"tier check", TierCheckSubject("c1", 0, "recorder", "segments"), "tier.check.c1.0.recorder.segments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Stop()

	count := 0
	done := make(chan struct{}, 4)
	if _, err := b.Subscribe("test.subject", func(*nats.Msg) {
		count++
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_ = b.Publish("test.subject", map[string]string{"a": "1"})
	<-done

	b.Unsubscribe("test.subject")
	_ = b.Publish("test.subject", map[string]string{"a": "2"})

	select {
	case <-done:
		t.Fatalf("received message after Unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
