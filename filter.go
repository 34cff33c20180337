package localize

import "gonum.org/v1/gonum/mat"

// StateFilter is the surface of a nonlinear state filter engine as the pose
// estimator drives it: the engine owns its mean and covariance, advances them
// on Predict and Correct, and lets the caller swap the process noise
// covariance between steps.
type StateFilter interface {
	// SetProcessNoiseCov replaces the process noise covariance
	SetProcessNoiseCov(cov mat.Symmetric) error
	// Predict advances the filter state given control input u
	Predict(u mat.Vector) (Estimate, error)
	// Correct updates the filter state with measurement z
	Correct(z mat.Vector) (Estimate, error)
	// State returns a copy of the current state mean
	State() mat.Vector
	// Covariance returns a copy of the current state covariance
	Covariance() mat.Symmetric
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate propagates internal state of the system to the next step.
	// q is state noise vector; nil means no noise.
	Propagate(x, u, q mat.Vector) (mat.Vector, error)
}

// Observer observes external state (output) of the system
type Observer interface {
	// Observe observes external state of the system.
	// r is output noise vector; nil means no noise.
	Observe(x, u, r mat.Vector) (mat.Vector, error)
}

// Model is a model of a dynamical system
type Model interface {
	// Propagator is system propagator
	Propagator
	// Observer is system observer
	Observer
	// SystemDims returns the dimensions of state, control input,
	// output and disturbance vectors
	SystemDims() (nx, nu, ny, nz int)
}

// InitCond is initial state condition of the filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}
