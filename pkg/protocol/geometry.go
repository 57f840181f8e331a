package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
)

// Geometry is the set of mesh attribute buffers SendGeometry can transmit.
// Any attribute left nil or empty is omitted from both wire paths.
type Geometry struct {
	Points    []float32
	Triangles []int32
	Normals   []float32
	UVs       []float32
	Tangents  []float32
}

type geometryAttr struct {
	name string
	data []byte
}

// SendGeometry transmits a Geometry either as a single "directbase64" JSON
// message, when the base64-encoded total fits within one envelope, or as
// one SendBuffer call per attribute otherwise, followed by an optional
// "spawn" message. The direct path names the UV attribute "texcoords"; the
// chunked path names it "uvs" — a deliberate asymmetry carried over because
// it is what the Unreal pixel-streaming front end expects on each path.
func (c *Channel) SendGeometry(g Geometry, name string, autoSpawn bool, opts TransferOptions) error {
	direct := map[string]interface{}{
		"type": "directbase64",
		"name": name,
	}
	if len(g.Points) > 0 {
		direct["points"] = base64.StdEncoding.EncodeToString(encodeFloat32LE(g.Points))
	}
	if len(g.Triangles) > 0 {
		direct["triangles"] = base64.StdEncoding.EncodeToString(encodeInt32LE(g.Triangles))
	}
	if len(g.Normals) > 0 {
		direct["normals"] = base64.StdEncoding.EncodeToString(encodeFloat32LE(g.Normals))
	}
	if len(g.UVs) > 0 {
		direct["texcoords"] = base64.StdEncoding.EncodeToString(encodeFloat32LE(g.UVs))
	}
	if len(g.Tangents) > 0 {
		direct["tangents"] = base64.StdEncoding.EncodeToString(encodeFloat32LE(g.Tangents))
	}

	if body, err := json.Marshal(direct); err == nil {
		frame := EncodeEnvelope(TagApplication, body)
		if len(frame) <= c.maxMessageSize {
			if err := c.send(frame); err != nil {
				return err
			}
			if autoSpawn {
				return c.sendSpawn(name)
			}
			return nil
		}
	}

	var attrs []geometryAttr
	if len(g.Points) > 0 {
		attrs = append(attrs, geometryAttr{"points", encodeFloat32LE(g.Points)})
	}
	if len(g.Triangles) > 0 {
		attrs = append(attrs, geometryAttr{"triangles", encodeInt32LE(g.Triangles)})
	}
	if len(g.Normals) > 0 {
		attrs = append(attrs, geometryAttr{"normals", encodeFloat32LE(g.Normals)})
	}
	if len(g.UVs) > 0 {
		attrs = append(attrs, geometryAttr{"uvs", encodeFloat32LE(g.UVs)})
	}
	if len(g.Tangents) > 0 {
		attrs = append(attrs, geometryAttr{"tangents", encodeFloat32LE(g.Tangents)})
	}

	for _, attr := range attrs {
		if err := c.SendBuffer(attr.data, attr.name, FormatBase64, opts); err != nil {
			return errors.Wrap(errors.ErrCodeChunkedTransferFailed, "geometry attribute transfer failed: "+attr.name, err)
		}
	}

	if autoSpawn {
		return c.sendSpawn(name)
	}
	return nil
}

func (c *Channel) sendSpawn(name string) error {
	body, err := json.Marshal(map[string]interface{}{"type": "spawn", "name": name})
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode spawn message", err)
	}
	return c.send(EncodeEnvelope(TagApplication, body))
}

func encodeFloat32LE(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func encodeInt32LE(values []int32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}
