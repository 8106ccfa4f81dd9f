package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestOptional(t *testing.T) {
	t.Run("zero value is unset", func(t *testing.T) {
		var o Optional[int]
		if o.IsSet() || o.IsSome() || o.IsNone() {
			t.Errorf("expected unset, got %+v", o)
		}
		if o.Ptr() != nil {
			t.Error("expected nil pointer for unset")
		}
	})

	t.Run("none is set but absent", func(t *testing.T) {
		o := None[string]()
		if !o.IsSet() || o.IsSome() || !o.IsNone() {
			t.Errorf("expected none, got %+v", o)
		}
		if got := o.OrElse("fallback"); got != "fallback" {
			t.Errorf("OrElse() = %q, want fallback", got)
		}
	})

	t.Run("some holds value", func(t *testing.T) {
		o := Some(42)
		v, ok := o.Get()
		if !ok || v != 42 {
			t.Errorf("Get() = %d, %v, want 42, true", v, ok)
		}
		if p := o.Ptr(); p == nil || *p != 42 {
			t.Errorf("Ptr() = %v, want pointer to 42", p)
		}
	})

	t.Run("FromPtr", func(t *testing.T) {
		if !FromPtr[int](nil).IsNone() {
			t.Error("expected nil pointer to map to none")
		}
		n := 7
		if v, ok := FromPtr(&n).Get(); !ok || v != 7 {
			t.Errorf("expected some(7), got %v %v", v, ok)
		}
	})

	t.Run("Merge", func(t *testing.T) {
		stored := Some("stored")
		tc := []struct {
			name string
			in   Optional[string]
			want Optional[string]
		}{
			{name: "unset keeps stored", in: Optional[string]{}, want: stored},
			{name: "none overwrites", in: None[string](), want: None[string]()},
			{name: "some overwrites", in: Some("new"), want: Some("new")},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.in.Merge(stored); got != tt.want {
					t.Errorf("Merge() = %+v, want %+v", got, tt.want)
				}
			})
		}
	})

	t.Run("MarshalJSON", func(t *testing.T) {
		snap := TrackSnapshot{TrackID: "t1", Features: Some(AudioFeatures{Tempo: 120})}
		data, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if decoded["images"] != nil {
			t.Errorf("expected unset images to encode as null, got %v", decoded["images"])
		}
		features, ok := decoded["audio_features"].(map[string]any)
		if !ok || features["tempo"] != float64(120) {
			t.Errorf("expected features with tempo 120, got %v", decoded["audio_features"])
		}
	})
}

func TestListenDocID(t *testing.T) {
	id := ListenDocID(1705314600123, "4uLU6hMCjMI75M1A2tKUQC")
	if id != "1705314600123_4uLU6hMCjMI75M1A2tKUQC" {
		t.Fatalf("unexpected id %q", id)
	}

	ms, track, err := ParseListenDocID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 1705314600123 || track != "4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("ParseListenDocID() = %d, %q", ms, track)
	}

	for _, bad := range []string{"", "123", "abc_track", "123_"} {
		if _, _, err := ParseListenDocID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestCursorUpdate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("success on empty cursor", func(t *testing.T) {
		got := SuccessUpdate(1000, 3).Apply("u1", nil, now)

		if got.UserID != "u1" {
			t.Errorf("expected user u1, got %q", got.UserID)
		}
		if got.LastFetchedAt == nil || *got.LastFetchedAt != 1000 {
			t.Errorf("expected watermark 1000, got %v", got.LastFetchedAt)
		}
		if got.ProcessedCount == nil || *got.ProcessedCount != 3 {
			t.Errorf("expected processed 3, got %v", got.ProcessedCount)
		}
		if got.LastError != nil {
			t.Errorf("expected cleared error, got %q", *got.LastError)
		}
		if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
			t.Errorf("expected last run at %v, got %v", now, got.LastRunAt)
		}
	})

	t.Run("failure keeps watermark", func(t *testing.T) {
		wm, count := int64(5000), 2
		prior := &IngestCursor{UserID: "u1", LastFetchedAt: &wm, ProcessedCount: &count}

		got := FailureUpdate("boom").Apply("u1", prior, now)

		if got.LastFetchedAt == nil || *got.LastFetchedAt != 5000 {
			t.Errorf("expected watermark to stay 5000, got %v", got.LastFetchedAt)
		}
		if got.ProcessedCount == nil || *got.ProcessedCount != 2 {
			t.Errorf("expected processed count to stay 2, got %v", got.ProcessedCount)
		}
		if got.LastError == nil || *got.LastError != "boom" {
			t.Errorf("expected error boom, got %v", got.LastError)
		}
		if prior.LastError != nil {
			t.Error("Apply must not mutate the prior cursor")
		}
	})

	t.Run("watermark fallback", func(t *testing.T) {
		var c *IngestCursor
		if got := c.Watermark(99); got != 99 {
			t.Errorf("Watermark() on nil = %d, want 99", got)
		}
		wm := int64(10)
		if got := (&IngestCursor{LastFetchedAt: &wm}).Watermark(99); got != 10 {
			t.Errorf("Watermark() = %d, want 10", got)
		}
	})
}

func TestUserValidate(t *testing.T) {
	if err := (&User{ID: "alice"}).Validate(); err != nil {
		t.Errorf("expected valid user, got %v", err)
	}
	if err := (&User{ID: "  "}).Validate(); err == nil {
		t.Error("expected error for blank id")
	}
}
