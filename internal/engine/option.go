package engine

import "fmt"

// OptionType is the dynamic type an option's value must have.
type OptionType int

const (
	OptionScalar OptionType = iota
	OptionSequence
	OptionMapping
)

// OptionSpec declares one user-configurable option of a step kind.
type OptionSpec struct {
	Name        string
	Type        OptionType
	Optional    bool
	Default     any
	Choices     []any
	Description string
}

// reservedOptionKeys are the engine-recognized underscore-prefixed keys a
// step instance's configuration may use. Any other underscore key is a
// ConfigurationError (spec.md §4.2).
var reservedOptionKeys = map[string]bool{
	"_depends":                   true,
	"_volatile":                  true,
	"_BREAK":                     true,
	"_connect":                   true,
	"_cluster_submit_options":    true,
	"_cluster_pre_job_command":   true,
	"_cluster_post_job_command":  true,
	"_cluster_job_quota":         true,
}

// IsReservedKey reports whether key is a recognized engine-reserved
// underscore key.
func IsReservedKey(key string) bool {
	return reservedOptionKeys[key]
}

// ValidateOptionValue checks a value's dynamic type and, if choices are
// declared, membership, per OptionSpec.
func ValidateOptionValue(spec OptionSpec, value any) error {
	switch spec.Type {
	case OptionScalar:
		switch value.(type) {
		case string, int, int64, float64, bool:
		default:
			return fmt.Errorf("%w: option %q expects a scalar, got %T", ErrConfiguration, spec.Name, value)
		}
	case OptionSequence:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%w: option %q expects a sequence, got %T", ErrConfiguration, spec.Name, value)
		}
	case OptionMapping:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("%w: option %q expects a mapping, got %T", ErrConfiguration, spec.Name, value)
		}
	}
	if len(spec.Choices) > 0 {
		found := false
		for _, c := range spec.Choices {
			if c == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: option %q value %v is not in choices %v", ErrConfiguration, spec.Name, value, spec.Choices)
		}
	}
	return nil
}
