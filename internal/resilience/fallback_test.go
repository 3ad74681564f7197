package resilience

import (
	"errors"
	"testing"
)

type fakeProvider struct {
	name string
	err  error
}

func TestGroupPrimaryFirst(t *testing.T) {
	t.Parallel()

	g := NewGroup(&fakeProvider{name: "east"}, "us-east-1")
	g.AddRegion("us-west-2", &fakeProvider{name: "west"})

	got, err := ExecuteWithResult(g, func(p *fakeProvider) (string, error) {
		return p.name, p.err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "east" {
		t.Fatalf("want primary region to serve, got %q", got)
	}
}

func TestGroupFailsOver(t *testing.T) {
	t.Parallel()

	g := NewGroup(&fakeProvider{name: "east", err: errors.New("throttled")}, "us-east-1")
	g.AddRegion("us-west-2", &fakeProvider{name: "west"})

	var attempts []string
	got, err := ExecuteWithResult(g, func(p *fakeProvider) (string, error) {
		attempts = append(attempts, p.name)
		return p.name, p.err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "west" {
		t.Fatalf("want fallback region to serve, got %q", got)
	}
	if len(attempts) != 2 || attempts[0] != "east" {
		t.Fatalf("want [east west] attempt order, got %v", attempts)
	}
}

func TestGroupAllFail(t *testing.T) {
	t.Parallel()

	g := NewGroup(&fakeProvider{err: errors.New("down")}, "us-east-1")
	g.AddRegion("us-west-2", &fakeProvider{err: errors.New("also down")})

	_, err := ExecuteWithResult(g, func(p *fakeProvider) (int, error) {
		return 0, p.err
	})
	if !errors.Is(err, ErrAllRegionsFailed) {
		t.Fatalf("want ErrAllRegionsFailed, got %v", err)
	}
}

func TestGroupExecute(t *testing.T) {
	t.Parallel()

	g := NewGroup(&fakeProvider{err: errors.New("down")}, "us-east-1")
	g.AddRegion("us-west-2", &fakeProvider{})

	if err := g.Execute(func(p *fakeProvider) error { return p.err }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Primary().err == nil {
		t.Fatal("primary accessor should return the failing primary")
	}
}
