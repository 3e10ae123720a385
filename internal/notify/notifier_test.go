package notify

import (
	"testing"
	"time"
)

func TestMetadataHeaderFormat(t *testing.T) {
	createdAt := time.Date(2026, time.March, 14, 15, 9, 0, 0, time.UTC)
	header := MetadataHeader(3, "Dana Reyes", createdAt)

	expected := "3. Dana Reyes\nMar 14, 2026 3:09 PM\n\n"
	if header != expected {
		t.Fatalf("unexpected header %q, want %q", header, expected)
	}
}

func TestStripMetadataHeader(t *testing.T) {
	createdAt := time.Date(2026, time.March, 14, 15, 9, 0, 0, time.UTC)
	header := MetadataHeader(12, "Dana Reyes", createdAt)

	cases := []struct {
		name     string
		contents string
		want     string
		stripped bool
	}{
		{name: "header removed", contents: header + "body text", want: "body text", stripped: true},
		{name: "multi paragraph user text kept whole", contents: "First paragraph.\n\nSecond paragraph.", want: "First paragraph.\n\nSecond paragraph.", stripped: false},
		{name: "no blank line", contents: "just a line", want: "just a line", stripped: false},
		{name: "single line before blank", contents: "one line\n\nbody", want: "one line\n\nbody", stripped: false},
		{name: "non numeric ordinal", contents: "a. Dana Reyes\nMar 14, 2026 3:09 PM\n\nbody", want: "a. Dana Reyes\nMar 14, 2026 3:09 PM\n\nbody", stripped: false},
		{name: "unparseable timestamp", contents: "3. Dana Reyes\nnot a date\n\nbody", want: "3. Dana Reyes\nnot a date\n\nbody", stripped: false},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			got, stripped := StripMetadataHeader(testCase.contents)
			if got != testCase.want || stripped != testCase.stripped {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, stripped, testCase.want, testCase.stripped)
			}
		})
	}
}

func TestNoticesExpire(t *testing.T) {
	current := time.Unix(1750000000, 0).UTC()
	notifier := NewTransientNotifier(TransientNotifierConfig{
		TTL:   3 * time.Second,
		Clock: func() time.Time { return current },
	})

	notifier.Push(LevelError, "save failed")
	notifier.Push(LevelSuccess, "annotation saved")

	active := notifier.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 active notices, got %d", len(active))
	}

	current = current.Add(4 * time.Second)
	if remaining := notifier.Active(); len(remaining) != 0 {
		t.Fatalf("expected notices to expire, got %d", len(remaining))
	}
}

func TestNoticesExpireIndividually(t *testing.T) {
	current := time.Unix(1750000000, 0).UTC()
	notifier := NewTransientNotifier(TransientNotifierConfig{
		TTL:   3 * time.Second,
		Clock: func() time.Time { return current },
	})

	notifier.Push(LevelInfo, "first")
	current = current.Add(2 * time.Second)
	notifier.Push(LevelInfo, "second")
	current = current.Add(2 * time.Second)

	active := notifier.Active()
	if len(active) != 1 {
		t.Fatalf("expected only the newer notice, got %d", len(active))
	}
	if active[0].Message != "second" {
		t.Fatalf("unexpected surviving notice %q", active[0].Message)
	}
}
