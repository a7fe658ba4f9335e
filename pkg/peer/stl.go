package peer

import (
	"bytes"
	"encoding/binary"
	"math"
)

// cubeTriangles enumerates the 12 triangles of a unit cube, two per
// face, counter-clockwise when viewed from outside.
var cubeTriangles = [12][3][3]float32{
	// -Z face
	{{0, 0, 0}, {1, 1, 0}, {1, 0, 0}},
	{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}},
	// +Z face
	{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}},
	{{0, 0, 1}, {1, 1, 1}, {0, 1, 1}},
	// -Y face
	{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}},
	{{0, 0, 0}, {1, 0, 1}, {0, 0, 1}},
	// +Y face
	{{0, 1, 0}, {1, 1, 1}, {1, 1, 0}},
	{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}},
	// -X face
	{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}},
	{{0, 0, 0}, {0, 1, 1}, {0, 1, 0}},
	// +X face
	{{1, 0, 0}, {1, 1, 1}, {1, 0, 1}},
	{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}},
}

// GenerateCubeSTL produces a valid binary STL of a unit cube scaled by
// size: 80-byte header, uint32 triangle count, then 50 bytes per
// triangle (normal, three vertices, attribute count).
func GenerateCubeSTL(size float32) []byte {
	if size <= 0 {
		size = 1
	}

	var buf bytes.Buffer

	header := make([]byte, 80)
	copy(header, []byte("meshbridge demo cube"))
	buf.Write(header)

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(cubeTriangles)))

	for _, tri := range cubeTriangles {
		normal := triangleNormal(tri)
		for _, component := range normal {
			_ = binary.Write(&buf, binary.LittleEndian, component)
		}
		for _, vertex := range tri {
			for _, component := range vertex {
				_ = binary.Write(&buf, binary.LittleEndian, component*size)
			}
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	}

	return buf.Bytes()
}

func triangleNormal(tri [3][3]float32) [3]float32 {
	var u, v [3]float32
	for i := 0; i < 3; i++ {
		u[i] = tri[1][i] - tri[0][i]
		v[i] = tri[2][i] - tri[0][i]
	}

	normal := [3]float32{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}

	length := float32(math.Sqrt(float64(normal[0]*normal[0] + normal[1]*normal[1] + normal[2]*normal[2])))
	if length == 0 {
		return [3]float32{}
	}
	for i := range normal {
		normal[i] /= length
	}

	return normal
}
