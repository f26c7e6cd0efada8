package vectorindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"chatpdf/internal/model"
)

const (
	VectorsFile  = "index.bin"
	MetadataFile = "metadata.json"

	formatVersion uint32 = 1
)

var (
	magic      = [4]byte{'C', 'P', 'V', 'I'}
	ErrCorrupt = errors.New("index artifacts are corrupt")
)

type header struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// Save writes both artifacts next to each other through temp files and
// renames, so a reader never sees a partially written file.
func (x *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir failed: %w", err)
	}

	vecTmp, err := writeTemp(dir, VectorsFile, x.writeVectors)
	if err != nil {
		return err
	}
	metaTmp, err := writeTemp(dir, MetadataFile, x.writeMetadata)
	if err != nil {
		_ = os.Remove(vecTmp)
		return err
	}

	if err := os.Rename(vecTmp, filepath.Join(dir, VectorsFile)); err != nil {
		_ = os.Remove(vecTmp)
		_ = os.Remove(metaTmp)
		return fmt.Errorf("commit vectors failed: %w", err)
	}
	if err := os.Rename(metaTmp, filepath.Join(dir, MetadataFile)); err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("commit metadata failed: %w", err)
	}
	return nil
}

func writeTemp(dir, name string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp %s failed: %w", name, err)
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write %s failed: %w", name, err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("flush %s failed: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("sync %s failed: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close %s failed: %w", name, err)
	}
	return f.Name(), nil
}

func (x *Index) writeVectors(w io.Writer) error {
	h := header{Magic: magic, Version: formatVersion, Dim: uint32(x.dim), Count: uint64(x.Len())}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if len(x.vectors) == 0 {
		return nil
	}
	return binary.Write(w, binary.LittleEndian, x.vectors)
}

func (x *Index) writeMetadata(w io.Writer) error {
	chunks := x.chunks
	if chunks == nil {
		chunks = []model.Chunk{}
	}
	return json.NewEncoder(w).Encode(chunks)
}

// Load reads the artifacts in dir. A directory without artifacts yields an
// empty index; the dimension comes from the vector file.
func Load(dir string) (*Index, error) {
	vecPath := filepath.Join(dir, VectorsFile)
	metaPath := filepath.Join(dir, MetadataFile)

	vecFile, err := os.Open(vecPath)
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(metaPath); statErr == nil {
			return nil, fmt.Errorf("%w: %s without %s", ErrCorrupt, MetadataFile, VectorsFile)
		}
		return New(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open vectors failed: %w", err)
	}
	defer vecFile.Close()

	info, err := vecFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat vectors failed: %w", err)
	}

	r := bufio.NewReader(vecFile)
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic || h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unknown format", ErrCorrupt)
	}
	if err := checkVectorsSize(h, info.Size()); err != nil {
		return nil, err
	}

	x := New(int(h.Dim))
	if h.Count > 0 {
		x.vectors = make([]float32, int(h.Dim)*int(h.Count))
		if err := binary.Read(r, binary.LittleEndian, x.vectors); err != nil {
			return nil, fmt.Errorf("%w: read vectors: %v", ErrCorrupt, err)
		}
	}

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata failed: %w", err)
	}
	if err := json.Unmarshal(raw, &x.chunks); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrCorrupt, err)
	}
	if uint64(len(x.chunks)) != h.Count {
		return nil, fmt.Errorf("%w: %d vectors, %d chunks", ErrCorrupt, h.Count, len(x.chunks))
	}
	return x, nil
}

// checkVectorsSize rejects a header whose dimensions do not match the bytes
// that follow it.
func checkVectorsSize(h header, size int64) error {
	headerSize := int64(binary.Size(header{}))
	body := size - headerSize
	if body < 0 {
		return fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if h.Count == 0 {
		if body != 0 {
			return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, body)
		}
		return nil
	}
	if h.Dim == 0 {
		return fmt.Errorf("%w: %d vectors of dimension 0", ErrCorrupt, h.Count)
	}
	rowBytes := uint64(h.Dim) * 4
	if uint64(body)%rowBytes != 0 || uint64(body)/rowBytes != h.Count {
		return fmt.Errorf("%w: header declares %d x %d vectors, file holds %d bytes", ErrCorrupt, h.Count, h.Dim, body)
	}
	return nil
}

// Exists reports whether dir holds a saved index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, VectorsFile))
	return err == nil
}

// Remove deletes both artifacts; missing files are not an error.
func Remove(dir string) error {
	var errs []error
	for _, name := range []string{VectorsFile, MetadataFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
