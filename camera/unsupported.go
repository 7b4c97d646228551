package camera

import "context"

type unsupportedDevices struct {
	err error
}

// Unsupported returns a capability whose every request fails with err,
// classified as NotSupported unless err already carries a kind.
func Unsupported(err error) MediaDevices {
	ce := Classify(err)
	if ce == nil || ce.Kind == KindUnknown {
		ce = newError(KindNotSupported, err)
	}
	return &unsupportedDevices{err: ce}
}

func (u *unsupportedDevices) Devices() ([]DeviceInfo, error) { return nil, u.err }

func (u *unsupportedDevices) GetUserMedia(context.Context, Constraints) (Stream, error) {
	return nil, u.err
}

func (u *unsupportedDevices) QueryPermission() PermissionState { return PermissionUnknown }
