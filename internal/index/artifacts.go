package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
)

// Artifact names inside the index directory.
const (
	IndexFileName      = "tickets.index"
	MetadataFileName   = "metadata.json"
	EmbeddingsFileName = "embeddings.f32"
)

// Distinct configuration errors surfaced when opening an index that was
// never built (or only partially written).
var (
	ErrIndexNotFound    = errors.New("vector index not found")
	ErrMetadataNotFound = errors.New("index metadata not found")
)

var indexMagic = [4]byte{'T', 'K', 'I', 'X'}

const indexVersion = 1

// indexHeader is the fixed part of the binary index file, followed by the
// model fingerprint string and count*dim little-endian float32 values.
type indexHeader struct {
	Magic    [4]byte
	Version  uint32
	Dim      uint32
	Count    uint32
	ModelLen uint32
}

// Write persists the index artifacts to dir: the binary vector index, the
// ordinal-aligned metadata array, and (optionally) the raw embedding matrix.
// Each file is written to a temp name and renamed into place so readers
// never observe a partial artifact.
func Write(dir string, x *Index, saveRaw bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	var buf bytes.Buffer
	hdr := indexHeader{
		Magic:    indexMagic,
		Version:  indexVersion,
		Dim:      uint32(x.dim),
		Count:    uint32(x.Len()),
		ModelLen: uint32(len(x.model)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("encoding index header: %w", err)
	}
	buf.WriteString(x.model)
	buf.Write(encodeFloat32s(x.vectors))
	if err := writeAtomic(filepath.Join(dir, IndexFileName), buf.Bytes()); err != nil {
		return fmt.Errorf("writing vector index: %w", err)
	}

	meta, err := json.Marshal(x.meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, MetadataFileName), meta); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	if saveRaw {
		if err := writeAtomic(filepath.Join(dir, EmbeddingsFileName), encodeFloat32s(x.vectors)); err != nil {
			return fmt.Errorf("writing raw embeddings: %w", err)
		}
	}
	return nil
}

// Load reads the index artifacts from dir. Missing index and missing
// metadata report distinct errors so callers can tell which artifact is
// absent. A count mismatch between the two files fails the load outright:
// the positional join is the sole key between them.
func Load(dir string) (*Index, error) {
	indexPath := filepath.Join(dir, IndexFileName)
	data, err := os.ReadFile(indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrIndexNotFound, indexPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading vector index: %w", err)
	}

	x, err := decodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", indexPath, err)
	}

	metaPath := filepath.Join(dir, MetadataFileName)
	metaData, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrMetadataNotFound, metaPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	if err := json.Unmarshal(metaData, &x.meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	if vectors := len(x.vectors) / x.dim; vectors != len(x.meta) {
		return nil, fmt.Errorf("index has %d vectors but metadata has %d entries", vectors, len(x.meta))
	}
	return x, nil
}

func decodeIndex(data []byte) (*Index, error) {
	r := bytes.NewReader(data)
	var hdr indexHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.Magic != indexMagic {
		return nil, errors.New("not a ticket index file")
	}
	if hdr.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", hdr.Version)
	}
	if hdr.Dim == 0 {
		return nil, errors.New("index header has zero dimension")
	}

	model := make([]byte, hdr.ModelLen)
	if _, err := io.ReadFull(r, model); err != nil {
		return nil, fmt.Errorf("reading model fingerprint: %w", err)
	}

	want := int(hdr.Count) * int(hdr.Dim) * 4
	blob := make([]byte, r.Len())
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("reading vectors: %w", err)
	}
	if len(blob) != want {
		return nil, fmt.Errorf("vector payload is %d bytes, header implies %d", len(blob), want)
	}

	vectors, err := decodeFloat32s(blob)
	if err != nil {
		return nil, err
	}
	return &Index{
		model:   string(model),
		dim:     int(hdr.Dim),
		vectors: vectors,
	}, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
