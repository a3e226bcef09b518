package badger

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same record always
// produces identical bytes. Times keep nanosecond precision.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("badger: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("badger: CBOR decoder initialization failed: " + err.Error())
	}
}

type imageRecord struct {
	ID               string    `cbor:"1,keyasint"`
	OriginalFilename string    `cbor:"2,keyasint"`
	FileType         string    `cbor:"3,keyasint"`
	Name             *string   `cbor:"4,keyasint,omitempty"`
	Hash             string    `cbor:"5,keyasint"`
	Size             int64     `cbor:"6,keyasint"`
	DuplicateCounter int       `cbor:"7,keyasint"`
	CreatedAt        time.Time `cbor:"8,keyasint"`
	UpdatedAt        time.Time `cbor:"9,keyasint"`
}

type thumbnailRecord struct {
	ID        string    `cbor:"1,keyasint"`
	ImageID   string    `cbor:"2,keyasint"`
	Width     int       `cbor:"3,keyasint"`
	Height    int       `cbor:"4,keyasint"`
	FileType  string    `cbor:"5,keyasint"`
	Size      int64     `cbor:"6,keyasint"`
	CreatedAt time.Time `cbor:"7,keyasint"`
	UpdatedAt time.Time `cbor:"8,keyasint"`
}
