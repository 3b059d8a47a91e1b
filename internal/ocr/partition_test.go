package ocr

import "testing"

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name       string
		totalPages int
		batchSize  int
		want       []Range
	}{
		{
			name:       "120 pages in batches of 50",
			totalPages: 120,
			batchSize:  50,
			want:       []Range{{1, 50}, {51, 100}, {101, 120}},
		},
		{
			name:       "exact multiple",
			totalPages: 100,
			batchSize:  50,
			want:       []Range{{1, 50}, {51, 100}},
		},
		{
			name:       "single short batch",
			totalPages: 7,
			batchSize:  50,
			want:       []Range{{1, 7}},
		},
		{
			name:       "single page",
			totalPages: 1,
			batchSize:  50,
			want:       []Range{{1, 1}},
		},
		{
			name:       "zero pages",
			totalPages: 0,
			batchSize:  50,
			want:       nil,
		},
		{
			name:       "default batch size when unset",
			totalPages: 60,
			batchSize:  0,
			want:       []Range{{1, 50}, {51, 60}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanBatches(tt.totalPages, tt.batchSize)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d ranges, want %d: %v", len(got), len(tt.want), got)
			}
			for i, r := range got {
				if r != tt.want[i] {
					t.Errorf("range %d: got %v, want %v", i, r, tt.want[i])
				}
			}
		})
	}
}

func TestPlanBatchesCoverage(t *testing.T) {
	// Every page appears in exactly one range.
	ranges := PlanBatches(237, 50)
	seen := make(map[int]int)
	for _, r := range ranges {
		if r.Start > r.End {
			t.Fatalf("inverted range %v", r)
		}
		for p := r.Start; p <= r.End; p++ {
			seen[p]++
		}
	}
	for p := 1; p <= 237; p++ {
		if seen[p] != 1 {
			t.Errorf("page %d covered %d times", p, seen[p])
		}
	}
}

func TestPendingRanges(t *testing.T) {
	ranges := []Range{{1, 50}, {51, 100}, {101, 120}}

	t.Run("nothing completed", func(t *testing.T) {
		got := PendingRanges(ranges, nil)
		if len(got) != 3 {
			t.Fatalf("got %d pending ranges, want 3", len(got))
		}
	})

	t.Run("first range fully completed", func(t *testing.T) {
		done := make(map[int]bool)
		for p := 1; p <= 50; p++ {
			done[p] = true
		}
		got := PendingRanges(ranges, done)
		if len(got) != 2 {
			t.Fatalf("got %d pending ranges, want 2", len(got))
		}
		if got[0] != (Range{51, 100}) {
			t.Errorf("first pending = %v, want {51 100}", got[0])
		}
	})

	t.Run("one incomplete page keeps range pending", func(t *testing.T) {
		done := make(map[int]bool)
		for p := 1; p <= 50; p++ {
			done[p] = true
		}
		delete(done, 37)
		got := PendingRanges(ranges, done)
		if len(got) != 3 {
			t.Fatalf("got %d pending ranges, want 3", len(got))
		}
	})

	t.Run("all completed", func(t *testing.T) {
		done := make(map[int]bool)
		for p := 1; p <= 120; p++ {
			done[p] = true
		}
		if got := PendingRanges(ranges, done); len(got) != 0 {
			t.Fatalf("got %d pending ranges, want 0", len(got))
		}
	})
}

func TestRangeID(t *testing.T) {
	r := Range{51, 100}
	if got := r.ID("doc-1"); got != "doc-1:51-100" {
		t.Errorf("ID = %q", got)
	}
	if r.Pages() != 50 {
		t.Errorf("Pages = %d, want 50", r.Pages())
	}
}
