package hoster

import "testing"

type stubClient struct{ Client }

func TestRegistry_ForURL(t *testing.T) {
	r := NewRegistry()
	gh := &stubClient{}
	r.Register("github.com", gh)

	client, owner, repo, ok := r.ForURL("https://github.com/jelmer/example.git")
	if !ok {
		t.Fatal("expected github.com to resolve")
	}
	if client != gh {
		t.Error("expected the registered client to be returned")
	}
	if owner != "jelmer" || repo != "example" {
		t.Errorf("owner/repo = %q/%q, want jelmer/example", owner, repo)
	}
}

func TestRegistry_ForURL_UnregisteredHost(t *testing.T) {
	r := NewRegistry()
	_, _, _, ok := r.ForURL("https://example.org/foo/bar")
	if ok {
		t.Fatal("expected an unregistered host to resolve false")
	}
}

func TestRegistry_ForURL_MalformedPath(t *testing.T) {
	r := NewRegistry()
	r.Register("github.com", &stubClient{})
	_, _, _, ok := r.ForURL("https://github.com/onlyowner")
	if ok {
		t.Fatal("expected a path without owner/repo to resolve false")
	}
}
