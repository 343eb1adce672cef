package pagination

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func queryCtx(query string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?"+query, nil)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit}},
		{"limit=5&offset=10", Params{Limit: 5, Offset: 10}},
		{"limit=5000", Params{Limit: MaxLimit}},
	}
	for _, tt := range tests {
		got, err := Parse(queryCtx(tt.query))
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.query, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestParse_RejectsBadValues(t *testing.T) {
	for _, q := range []string{"limit=0", "limit=ten", "offset=-1", "offset=x"} {
		if _, err := Parse(queryCtx(q)); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): expected ErrInvalid, got %v", q, err)
		}
	}
}

func TestLimit_MissingLeavesDefaultToCaller(t *testing.T) {
	n, err := Limit(queryCtx(""), 50)
	if err != nil || n != 0 {
		t.Errorf("Limit() = %d, %v; want 0, nil", n, err)
	}
}

func TestNewPage(t *testing.T) {
	query := url.Values{"event_type": {"phi_access"}, "offset": {"0"}}
	pg := NewPage([]string{"a", "b"}, 5, Params{Limit: 2}, "/api/v1/audit/events", query)
	if !pg.HasMore {
		t.Fatal("expected more rows")
	}
	if pg.Next != "/api/v1/audit/events?event_type=phi_access&limit=2&offset=2" {
		t.Errorf("Next = %q", pg.Next)
	}

	last := NewPage[string](nil, 2, Params{Limit: 2, Offset: 2}, "/x", nil)
	if last.HasMore || last.Next != "" || last.Data == nil {
		t.Errorf("unexpected last page %+v", last)
	}
}
