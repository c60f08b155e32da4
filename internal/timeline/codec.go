package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/util"
)

// Encoded payload layout:
//
//	[magic 'T' 'V'][version][compression][body ...][crc32 (4 bytes, little endian)]
//
// The checksum covers header and body. A payload whose first byte is '{' is
// accepted as plain JSON so that hand-written timelines stay readable.
const (
	codecMagic0  = 'T'
	codecMagic1  = 'V'
	codecVersion = 1
	headerSize   = 4
)

// Codec converts instant metadata to and from stored payloads
type Codec struct {
	compressor Compressor
	byType     map[CompressionType]Compressor
}

// NewCodec creates a codec that writes with the given compression and reads
// every supported compression
func NewCodec(compression CompressionType) (*Codec, error) {
	byType := make(map[CompressionType]Compressor)
	for _, t := range []CompressionType{CompressionNone, CompressionZstd, CompressionSnappy, CompressionLZ4} {
		c, err := NewCompressor(t)
		if err != nil {
			return nil, err
		}
		byType[t] = c
	}
	compressor, ok := byType[compression]
	if !ok {
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
	return &Codec{compressor: compressor, byType: byType}, nil
}

// Encode serializes metadata. A nil metadata encodes to an empty payload.
func (c *Codec) Encode(md model.Metadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	body, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s metadata: %w", md.Kind(), err)
	}
	compressed, err := c.compressor.Compress(body)
	if err != nil {
		return nil, err
	}

	framed := make([]byte, 0, headerSize+len(compressed))
	framed = append(framed, codecMagic0, codecMagic1, codecVersion, byte(c.compressor.Type()))
	framed = append(framed, compressed...)
	return util.Seal(framed), nil
}

// Decode deserializes the payload of an instant. Empty payloads decode to the
// zero metadata of the instant's type. Decode does not validate shape.
func (c *Codec) Decode(instant model.Instant, payload []byte) (model.Metadata, error) {
	md, err := model.NewMetadataFor(instant.Action, instant.State)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return md, nil
	}

	body := payload
	if payload[0] != '{' {
		body, err = c.unframe(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", instant, err)
		}
	}

	if err := json.Unmarshal(body, md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", instant, err)
	}
	return md, nil
}

func (c *Codec) unframe(payload []byte) ([]byte, error) {
	framed, err := util.Open(payload)
	if err != nil {
		return nil, err
	}
	if len(framed) < headerSize || framed[0] != codecMagic0 || framed[1] != codecMagic1 {
		return nil, fmt.Errorf("payload has no codec header")
	}
	if framed[2] != codecVersion {
		return nil, fmt.Errorf("unsupported payload version %d", framed[2])
	}
	compressor, ok := c.byType[CompressionType(framed[3])]
	if !ok {
		return nil, fmt.Errorf("unsupported payload compression %s", CompressionType(framed[3]))
	}
	return compressor.Decompress(framed[headerSize:])
}
