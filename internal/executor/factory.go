package executor

import "fmt"

// New creates an executor of the configured type.
//
// Supported types:
//   - "ramping-vus" - VU count follows a stage plan
//   - "constant-vus" - Fixed number of VUs for a duration
func New(cfg Config, opts ...Option) (Executor, error) {
	switch cfg.Type {
	case TypeRampingVUs:
		return NewRampingVUs(cfg, opts...)
	case TypeConstantVUs:
		return NewConstantVUs(cfg, opts...)
	case "":
		return nil, &ValidationError{Field: "type", Message: "executor type is required"}
	default:
		return nil, &ValidationError{Field: "type", Message: "unknown executor type: " + string(cfg.Type)}
	}
}

// IsValidType returns true if the type names a supported executor.
func IsValidType(executorType string) bool {
	switch Type(executorType) {
	case TypeRampingVUs, TypeConstantVUs:
		return true
	default:
		return false
	}
}

// SupportedTypes returns every supported executor type.
func SupportedTypes() []Type {
	return []Type{TypeRampingVUs, TypeConstantVUs}
}

// Description provides documentation for an executor type.
type Description struct {
	Type        Type
	Name        string
	Description string
	UseCases    []string
}

// Describe returns documentation for an executor type.
func Describe(executorType Type) (*Description, error) {
	switch executorType {
	case TypeRampingVUs:
		return &Description{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Resizes the VU pool to follow a list of stages; surplus VUs finish their iteration within gracefulRampDown",
			UseCases: []string{
				"Staged ramp-up, hold, and ramp-down profiles",
				"Observing autoscaling under a changing number of clients",
			},
		}, nil
	case TypeConstantVUs:
		return &Description{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of VUs looping for a duration",
			UseCases: []string{
				"Baseline throughput for N concurrent users",
				"Simple soak tests",
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}
