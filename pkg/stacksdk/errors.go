package stacksdk

import "errors"

var (
	// ErrParameter reports an invalid combination of arguments.
	ErrParameter = errors.New("stacksdk: invalid parameter")

	// ErrQuery reports a response that lacks what the operation expects.
	ErrQuery = errors.New("stacksdk: unexpected response")

	// ErrUnsupported reports an operation the platform does not offer.
	ErrUnsupported = errors.New("stacksdk: unsupported operation")
)
