package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseOffsetParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{name: "defaults", query: "", wantLimit: DefaultLimit, wantOffset: 0},
		{name: "custom limit and offset", query: "limit=10&offset=20", wantLimit: 10, wantOffset: 20},
		{name: "limit at max", query: "limit=500", wantLimit: MaxLimit, wantOffset: 0},
		{name: "limit over max", query: "limit=501", wantErr: true},
		{name: "zero limit", query: "limit=0", wantErr: true},
		{name: "negative limit", query: "limit=-1", wantErr: true},
		{name: "negative offset", query: "offset=-1", wantErr: true},
		{name: "non-numeric limit", query: "limit=abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p, err := ParseOffsetParams(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOffsetParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewOffsetPage(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := NewOffsetPage(items, OffsetParams{Limit: 50, Offset: 0}, 3)

	if len(page.Items) != 3 {
		t.Errorf("Items length = %d, want 3", len(page.Items))
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	if page.Limit != 50 || page.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want 50/0", page.Limit, page.Offset)
	}
}
