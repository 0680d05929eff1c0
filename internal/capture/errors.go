package capture

import "errors"

// Device acquisition failures are distinct and never auto-retried: the
// caller has to change something (grant access, plug in a device, free the
// device) before another attempt can succeed.
var (
	ErrPermissionDenied  = errors.New("capture permission denied")
	ErrPermissionPending = errors.New("capture permission not yet granted")
	ErrDeviceNotFound    = errors.New("capture device not found")
	ErrDeviceBusy        = errors.New("capture device busy")
)
