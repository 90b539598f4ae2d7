package executor

import "fmt"

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// It is a ramping-vus executor whose plan is a single stage of VUs for
// Duration, so it shares the same drain and force-stop behavior.
type ConstantVUs struct {
	*RampingVUs
}

// NewConstantVUs creates a constant-vus executor.
func NewConstantVUs(cfg Config, opts ...Option) (*ConstantVUs, error) {
	if cfg.Type != TypeConstantVUs {
		return nil, fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, cfg.Type)
	}
	inner, err := newVUExecutor(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &ConstantVUs{RampingVUs: inner}, nil
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
