package api

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseVecRejectsNonFinite(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"1,2,3", true},
		{" -1.5 , 0 ,1e3", true},
		{"NaN,0,0", false},
		{"0,Inf,0", false},
		{"0,0,-Inf", false},
		{"1,2", false},
		{"a,b,c", false},
	}
	for _, tt := range tests {
		if _, err := parseVec(tt.in); (err == nil) != tt.ok {
			t.Errorf("parseVec(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
		}
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, map[string]float64{"distance": math.NaN()})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	writeAccepted(rec, map[string]int{"id": 1})
	if rec.Code != http.StatusAccepted || rec.Body.String() != "{\"id\":1}\n" {
		t.Errorf("accepted = %d %q", rec.Code, rec.Body.String())
	}
}
