package worker

import "testing"

func TestHTTPDispatcher_ProgressURL(t *testing.T) {
	cases := []struct {
		baseURL string
		want    string
	}{
		{"https://janitor.example.com", "wss://janitor.example.com/ws/active-runs/r1/progress?queue_id=q1"},
		{"http://localhost:9911", "ws://localhost:9911/ws/active-runs/r1/progress?queue_id=q1"},
	}
	for _, c := range cases {
		d := NewHTTPDispatcher(c.baseURL, "")
		if got := d.ProgressURL("r1", "q1"); got != c.want {
			t.Errorf("ProgressURL(%q) = %q, want %q", c.baseURL, got, c.want)
		}
	}
}
