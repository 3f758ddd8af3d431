package tfserving

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/androsja/Se-alyze/pkg/types"
)

func window(n int) []types.Frame {
	frames := make([]types.Frame, n)
	for i := range frames {
		frames[i] = types.Frame{
			Timestamp: time.Unix(int64(i), 0),
			Hands: []types.Hand{{
				Handedness: types.HandRight,
				Landmarks:  make([]types.Landmark, types.LandmarksPerHand),
			}},
		}
	}
	return frames
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   string
		model  string
		labels []string
	}{
		{"empty base", "", "m", []string{"a"}},
		{"empty model", "http://x", "", []string{"a"}},
		{"no labels", "http://x", "m", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.base, tc.model, tc.labels); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestClassify_Argmax(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotRows, gotCols int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Instances) == 1 {
			gotRows = len(req.Instances[0])
			if gotRows > 0 {
				gotCols = len(req.Instances[0][0])
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictions":[[0.1,0.8,0.1]]}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL+"/", "signs", []string{"hola", "gracias", "_no_hands"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Classify(context.Background(), window(32))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Label != "gracias" || got.Confidence != 0.8 {
		t.Errorf("Classify = %+v, want gracias/0.8", got)
	}
	if gotPath != "/v1/models/signs:predict" {
		t.Errorf("path = %q", gotPath)
	}
	if gotRows != 32 || gotCols != types.FeaturesPerFrame {
		t.Errorf("instance shape = %dx%d, want 32x%d", gotRows, gotCols, types.FeaturesPerFrame)
	}
}

func TestClassify_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"server error", http.StatusInternalServerError, "boom", "status 500"},
		{"model error", http.StatusOK, `{"error":"bad input"}`, "bad input"},
		{"empty predictions", http.StatusOK, `{"predictions":[]}`, "empty predictions"},
		{"width mismatch", http.StatusOK, `{"predictions":[[1.0]]}`, "does not match"},
		{"malformed json", http.StatusOK, `{`, "decode"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p, err := New(srv.URL, "signs", []string{"hola", "gracias"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Classify(context.Background(), window(4))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("err = %v, want substring %q", err, tc.wantSub)
			}
		})
	}
}

func TestClassify_EmptyWindow(t *testing.T) {
	t.Parallel()
	p, _ := New("http://localhost", "signs", []string{"a"})
	if _, err := p.Classify(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty window")
	}
}

func TestClassify_Cancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "signs", []string{"a"}, WithTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Classify(ctx, window(2)); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
