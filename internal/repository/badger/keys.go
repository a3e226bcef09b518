package badger

import (
	"fmt"
	"strings"
	"time"
)

// Key layout:
//
//	img/<id>                          image record
//	idx/hash/<hash>                   -> image id
//	idx/name/<name>                   -> image id
//	idx/created/<unix nanos>/<id>     ordering for List
//	thumb/<id>                        thumbnail record
//	idx/size/<image id>/<w>/<h>       -> thumbnail id
var (
	imagePrefix   = []byte("img/")
	createdPrefix = []byte("idx/created/")
)

func imageKey(id string) []byte {
	return []byte("img/" + id)
}

func hashKey(hash string) []byte {
	return []byte("idx/hash/" + hash)
}

func nameKey(name string) []byte {
	return []byte("idx/name/" + name)
}

func createdKey(t time.Time, id string) []byte {
	return fmt.Appendf(nil, "idx/created/%020d/%s", t.UnixNano(), id)
}

func idFromCreatedKey(key []byte) string {
	s := string(key)
	return s[strings.LastIndexByte(s, '/')+1:]
}

func thumbnailKey(id string) []byte {
	return []byte("thumb/" + id)
}

// sizeKey pads dimensions so keys under one image sort by width, height.
func sizeKey(imageID string, w, h int) []byte {
	return fmt.Appendf(nil, "idx/size/%s/%010d/%010d", imageID, w, h)
}

func sizePrefix(imageID string) []byte {
	return []byte("idx/size/" + imageID + "/")
}
