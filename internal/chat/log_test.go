package chat

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id string, at time.Time) Message {
	return Message{ID: id, Room: "global", Author: "tester", Text: "text-" + id, CreatedAt: at}
}

func TestAppendAndTail(t *testing.T) {
	l := NewLog(30)

	l.Append("global", msgAt("1", base))
	l.Append("global", msgAt("2", base.Add(time.Second)))
	l.Append("global", msgAt("3", base.Add(2*time.Second)))

	msgs := l.Tail("global", 30)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if msgs[i].ID != want {
			t.Errorf("index %d: expected %q, got %q", i, want, msgs[i].ID)
		}
	}

	last := l.Tail("global", 2)
	if len(last) != 2 || last[0].ID != "2" || last[1].ID != "3" {
		t.Errorf("Tail(2) = %+v, want ids [2 3]", last)
	}
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	l := NewLog(30)
	for i := 1; i <= 30; i++ {
		l.Append("global", msgAt(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}
	if l.Len("global") != 30 {
		t.Fatalf("expected full log of 30, got %d", l.Len("global"))
	}

	evicted := l.Append("global", msgAt("m31", base.Add(31*time.Second)))
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if l.Len("global") != 30 {
		t.Fatalf("length changed to %d, want 30", l.Len("global"))
	}
	msgs := l.Tail("global", 30)
	if msgs[0].ID != "m2" {
		t.Errorf("oldest should now be m2, got %q", msgs[0].ID)
	}
	if msgs[29].ID != "m31" {
		t.Errorf("newest should be m31, got %q", msgs[29].ID)
	}
}

func TestTailUnknownRoom(t *testing.T) {
	l := NewLog(5)
	msgs := l.Tail("nowhere", 5)
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestTailIsACopy(t *testing.T) {
	l := NewLog(5)
	l.Append("global", msgAt("1", base))
	msgs := l.Tail("global", 1)
	msgs[0].Text = "mutated"
	if l.Tail("global", 1)[0].Text != "text-1" {
		t.Fatal("Tail must not expose stored entries")
	}
}

func TestDeleteByID(t *testing.T) {
	l := NewLog(5)
	l.Append("global", msgAt("a", base))
	l.Append("global", msgAt("b", base.Add(time.Second)))
	l.Append("global", msgAt("c", base.Add(2*time.Second)))

	if !l.DeleteByID("global", "b") {
		t.Fatal("expected b to be found")
	}
	if l.DeleteByID("global", "b") {
		t.Error("second delete of b should report false")
	}
	if l.DeleteByID("male_male", "a") {
		t.Error("delete in the wrong room should report false")
	}

	msgs := l.Tail("global", 5)
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "c" {
		t.Errorf("unexpected contents after delete: %+v", msgs)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	l := NewLog(10)
	l.Append("global", msgAt("old", base))
	l.Append("global", msgAt("edge", base.Add(10*time.Minute)))
	l.Append("global", msgAt("new", base.Add(20*time.Minute)))

	removed := l.PurgeOlderThan("global", base.Add(10*time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	msgs := l.Tail("global", 10)
	if len(msgs) != 2 || msgs[0].ID != "edge" {
		t.Errorf("a message exactly at the cutoff must survive, got %+v", msgs)
	}
}

func TestPurgeDropsUntimestampedEntries(t *testing.T) {
	l := NewLog(10)
	l.Append("global", msgAt("corrupt", time.Time{}))
	l.Append("global", msgAt("fine", base.Add(time.Hour)))

	if removed := l.PurgeOlderThan("global", base); removed != 1 {
		t.Fatalf("expected the corrupt entry to be removed, got %d", removed)
	}
	if l.Tail("global", 10)[0].ID != "fine" {
		t.Error("valid entry should remain")
	}
}

func TestSnapshotAndTotals(t *testing.T) {
	l := NewLog(10)
	l.Append("global", msgAt("1", base))
	l.Append("male_male", msgAt("2", base))
	l.Append("male_male", msgAt("3", base))

	if l.Total() != 3 {
		t.Errorf("Total() = %d, want 3", l.Total())
	}
	rooms := l.Rooms()
	if strings.Join(rooms, ",") != "global,male_male" {
		t.Errorf("Rooms() = %v", rooms)
	}
	snap := l.Snapshot()
	if len(snap["male_male"]) != 2 {
		t.Errorf("snapshot male_male = %d entries", len(snap["male_male"]))
	}
}

func TestConcurrentAppendNeverExceedsBound(t *testing.T) {
	l := NewLog(30)
	goroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < perGoroutine; m++ {
				l.Append("global", msgAt(fmt.Sprintf("g%d-m%d", id, m), base))
				if n := len(l.Tail("global", -1)); n > 30 {
					t.Errorf("observed %d entries, bound is 30", n)
				}
			}
		}(g)
	}
	wg.Wait()

	if l.Len("global") != 30 {
		t.Fatalf("expected 30 messages, got %d", l.Len("global"))
	}
}

func TestNormalizeBody(t *testing.T) {
	long := strings.Repeat("a", 350)
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"trims", "  hello  ", "hello", nil},
		{"empty", "   \n\t ", "", ErrEmptyBody},
		{"truncates", long, strings.Repeat("a", 300), nil},
		{"counts runes not bytes", strings.Repeat("é", 301), strings.Repeat("é", 300), nil},
		{"invalid utf8", string([]byte{0xff, 0xfe}), "", ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBody(tt.in, 300)
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d runes, want %d", len([]rune(got)), len([]rune(tt.want)))
			}
		})
	}
}
