package dispatcher

import (
	"os"
	"strings"

	"github.com/jeanpaul/danzar/internal/connector"
)

type Kind int

const (
	KindText Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "text"
}

// Payload is either message text or the path of a local image. It is
// decided once, when the item enters the queue.
type Payload struct {
	Kind Kind
	Text string
	Path string
	// Owned marks an image file created for this item. Only owned files are
	// removed after the reply.
	Owned bool
}

func Text(s string) Payload { return Payload{Kind: KindText, Text: s} }

// ImagePath refers to a file the caller keeps.
func ImagePath(path string) Payload { return Payload{Kind: KindImage, Path: path} }

// TempImage hands a freshly written file to the dispatcher, which deletes it
// once the item is answered.
func TempImage(path string) Payload { return Payload{Kind: KindImage, Path: path, Owned: true} }

// Classify treats raw as an image path when it names an existing regular
// file, and as text otherwise.
func Classify(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if fi, err := os.Stat(trimmed); err == nil && fi.Mode().IsRegular() {
			return ImagePath(trimmed)
		}
	}
	return Text(trimmed)
}

// Item is one unit of inbound work.
type Item struct {
	ID      string
	Author  string
	Channel string
	Payload Payload
	Reply   connector.Channel
}
