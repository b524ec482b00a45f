package skills

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// TypedFunc is the logic of a statically typed skill.
type TypedFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

type typedSkill[In, Out any] struct {
	meta Metadata
	fn   TypedFunc[In, Out]
}

// NewTyped builds a skill whose inputs decode into In. When meta leaves the
// input or output schema empty it is reflected from In or Out, so the generic
// validation still runs before fn is called.
func NewTyped[In, Out any](meta Metadata, fn TypedFunc[In, Out]) (Skill, error) {
	if fn == nil {
		return nil, fmt.Errorf("skill %s: nil function", meta.Name)
	}
	if meta.Inputs.IsZero() {
		s, err := ReflectSchema[In]()
		if err != nil {
			return nil, fmt.Errorf("skill %s inputs: %w", meta.Name, err)
		}
		meta.Inputs = s
	}
	if meta.Outputs.IsZero() {
		if s, err := ReflectSchema[Out](); err == nil {
			meta.Outputs = s
		}
	}
	return &typedSkill[In, Out]{meta: meta, fn: fn}, nil
}

// MustTyped is NewTyped that panics on error.
func MustTyped[In, Out any](meta Metadata, fn TypedFunc[In, Out]) Skill {
	s, err := NewTyped(meta, fn)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *typedSkill[In, Out]) Metadata() Metadata { return s.meta }

func (s *typedSkill[In, Out]) Run(ctx context.Context, inputs map[string]any) (any, error) {
	in, err := Decode[In](inputs)
	if err != nil {
		return nil, err
	}
	return s.fn(ctx, in)
}

// Decode converts validated inputs into T using json field names.
func Decode[T any](inputs map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return out, fmt.Errorf("decode inputs: %w", err)
	}
	if err := dec.Decode(inputs); err != nil {
		return out, fmt.Errorf("decode inputs: %w", err)
	}
	return out, nil
}
