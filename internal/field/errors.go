package field

import "errors"

var (
	// ErrNetwork covers a missing network handle, connect/read failures and
	// unexpected response statuses.
	ErrNetwork = errors.New("network error")

	// ErrDecode is returned when input bytes are not a usable raster.
	ErrDecode = errors.New("decode error")

	// ErrEncode is returned when the processed raster cannot be serialized.
	ErrEncode = errors.New("encode error")

	// ErrPublish is returned when the durable write or atomic rename fails.
	ErrPublish = errors.New("publish error")
)
