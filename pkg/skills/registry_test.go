package skills

import (
	"context"
	"testing"

	ferrors "github.com/jllopis/agentfactory/pkg/errors"
)

func noop(name string) Factory {
	return func() Skill {
		return NewFunc(Metadata{Name: name, Version: "0.1.0"}, func(context.Context, map[string]any) (any, error) {
			return nil, nil
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha"} {
		if err := reg.Register(noop(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := reg.Register(noop("alpha")); !ferrors.IsCode(err, ferrors.CodeInvalidInput) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	list := reg.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, err := reg.New("missing"); !ferrors.IsCode(err, ferrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if meta, err := reg.Metadata("zeta"); err != nil || meta.Version != "0.1.0" {
		t.Fatalf("metadata: %+v %v", meta, err)
	}
	a, _ := reg.New("alpha")
	b, _ := reg.New("alpha")
	if a == b {
		t.Fatalf("factory should build fresh instances")
	}
}

func TestRegistryRejectsInvalidMetadata(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
	}{
		{"empty name", Metadata{Version: "1.0.0"}},
		{"upper case", Metadata{Name: "Bad", Version: "1.0.0"}},
		{"bad version", Metadata{Name: "ok", Version: "one"}},
		{"bad schema", Metadata{Name: "ok", Version: "1.0.0", Inputs: Schema{Type: "array"}}},
		{"bad property", Metadata{Name: "ok", Version: "1.0.0", Inputs: Schema{Properties: map[string]Property{"x": {Type: "date"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register(func() Skill { return NewFunc(tt.meta, nil) })
			if !ferrors.IsCode(err, ferrors.CodeInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if err := NewRegistry().Register(nil); err == nil {
		t.Fatalf("expected nil factory error")
	}
}

func TestMustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	reg := NewRegistry()
	reg.MustRegister(noop("dup"))
	reg.MustRegister(noop("dup"))
}
