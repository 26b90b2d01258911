package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestFromQuery_Defaults(t *testing.T) {
	params := FromQuery(nil, Options{})
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token, got %q", params.PageToken)
	}
}

func TestFromQuery_ParsesAndClamps(t *testing.T) {
	cases := []struct {
		name  string
		query url.Values
		opts  Options
		size  int
		token string
	}{
		{
			name:  "explicit size",
			query: url.Values{"page_size": {"25"}},
			size:  25,
		},
		{
			name:  "oversized request clamped",
			query: url.Values{"page_size": {"5000"}},
			opts:  Options{MaxPageSize: 200},
			size:  200,
		},
		{
			name:  "unparseable size falls back",
			query: url.Values{"page_size": {"lots"}},
			opts:  Options{DefaultPageSize: 20},
			size:  20,
		},
		{
			name:  "non positive size falls back",
			query: url.Values{"page_size": {"-3"}},
			opts:  Options{DefaultPageSize: 20},
			size:  20,
		},
		{
			name:  "default above max is lowered",
			opts:  Options{DefaultPageSize: 500, MaxPageSize: 100},
			size:  100,
		},
		{
			name:  "token trimmed",
			query: url.Values{"page_token": {"  abc123  "}},
			size:  DefaultPageSize,
			token: "abc123",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := FromQuery(tc.query, tc.opts)
			if params.PageSize != tc.size {
				t.Fatalf("expected page size %d, got %d", tc.size, params.PageSize)
			}
			if params.PageToken != tc.token {
				t.Fatalf("expected page token %q, got %q", tc.token, params.PageToken)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	type cursor struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
	}
	original := cursor{ID: "ord_1", CreatedAt: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}

	token, err := EncodeToken(original)
	if err != nil {
		t.Fatalf("EncodeToken error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	var decoded cursor
	if err := DecodeToken(token, &decoded); err != nil {
		t.Fatalf("DecodeToken error: %v", err)
	}
	if decoded.ID != original.ID || !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("unexpected cursor after round trip: %+v", decoded)
	}
}

func TestDecodeToken_RejectsGarbage(t *testing.T) {
	var out struct{ ID string }
	if err := DecodeToken("not base64!!", &out); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	if err := DecodeToken("bm90LWpzb24", &out); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for non-json payload, got %v", err)
	}
}

func TestClampPageSize(t *testing.T) {
	if got := ClampPageSize(0, 50, 200); got != 50 {
		t.Fatalf("expected fallback 50, got %d", got)
	}
	if got := ClampPageSize(500, 50, 200); got != 200 {
		t.Fatalf("expected max 200, got %d", got)
	}
	if got := ClampPageSize(75, 50, 200); got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}
}
