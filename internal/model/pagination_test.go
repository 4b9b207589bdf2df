package model

import "testing"

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name      string
		page      int
		limit     int
		total     int64
		wantPages int
		wantNext  bool
		wantPrev  bool
	}{
		{"empty", 1, 50, 0, 0, false, false},
		{"exact fit", 1, 10, 10, 1, false, false},
		{"one over", 1, 10, 11, 2, true, false},
		{"middle page", 2, 10, 25, 3, true, true},
		{"last page", 3, 10, 25, 3, false, true},
		{"beyond last", 5, 10, 25, 3, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.page, tt.limit, tt.total)
			if p.TotalPages != tt.wantPages {
				t.Fatalf("total pages: want %d, got %d", tt.wantPages, p.TotalPages)
			}
			if p.HasNext != tt.wantNext || p.HasPrev != tt.wantPrev {
				t.Fatalf("next/prev: want %v/%v, got %v/%v", tt.wantNext, tt.wantPrev, p.HasNext, p.HasPrev)
			}
		})
	}
}

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	if DirectKey("b", "a") != DirectKey("a", "b") {
		t.Fatal("direct key must not depend on argument order")
	}
	if DirectKey("a", "b") != "a:b" {
		t.Fatalf("unexpected key %q", DirectKey("a", "b"))
	}
}
