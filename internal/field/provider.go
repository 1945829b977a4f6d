package field

import (
	"image"
	"net/http"
)

// Network is the handle a fetch attempt performs its request over. It is
// supplied by the scheduler and scoped to a network that satisfies the job's
// constraints. *http.Client satisfies it.
type Network interface {
	Do(req *http.Request) (*http.Response, error)
}

// Processor turns raw upstream image bytes into the cached representation.
type Processor interface {
	Process(raw []byte) (ProcessedImage, error)
}

// Publisher atomically replaces the current field.
type Publisher interface {
	Publish(encoded []byte, raster *image.RGBA) (int64, error)
}

// Reader is the consumer-facing side of the cache store.
type Reader interface {
	Read() (*CachedField, error)
	CurrentVersion() int64
}

// StateStore is the small persisted key-value record shared by the fetch job
// (revision token) and the scheduling policy (last expedited trigger).
type StateStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}
