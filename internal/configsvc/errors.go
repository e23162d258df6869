package configsvc

import "errors"

// Sentinel errors for the configsvc package.
var (
	ErrInvalidConfig        = errors.New("invalid config")
	ErrInvalidOrganicPolicy = errors.New("ORGANIC_POLICY must be allow or reject")
	ErrInvalidTemplate      = errors.New("invalid landing URL template")

	// Decision errors
	ErrBundleRequired = errors.New("bundle_id is required")
	ErrOSRequired     = errors.New("os is required")
	ErrRenderedURL    = errors.New("landing URL template produced an invalid URL")
)
