package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"
)

// itemMetadata is the metadata create records for each item when no
// metadata file is given.
type itemMetadata struct {
	Size    int64  `json:"size"`
	MTime   string `json:"mtime"`
	Mode    string `json:"mode"`
	Blake2b string `json:"blake2b,omitempty"`
}

// describe builds the metadata of a local file or directory. Regular files
// carry a BLAKE2b-256 digest of their content.
func describe(path string, info fs.FileInfo) (itemMetadata, error) {
	md := itemMetadata{
		MTime: info.ModTime().UTC().Format(time.RFC3339),
		Mode:  fmt.Sprintf("%04o", info.Mode().Perm()),
	}
	if !info.Mode().IsRegular() {
		return md, nil
	}
	md.Size = info.Size()
	sum, err := fileDigest(path)
	if err != nil {
		return itemMetadata{}, err
	}
	md.Blake2b = sum
	return md, nil
}

// fileDigest returns the hex BLAKE2b-256 digest of the file at path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest(f)
}

// rootDigest is fileDigest for a file below root.
func rootDigest(root *os.Root, name string) (string, error) {
	f, err := root.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest(f)
}

func digest(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// expectedDigest extracts the blake2b field from item metadata. Metadata
// that is not an object, or has no such string field, yields "".
func expectedDigest(metadata json.RawMessage) string {
	var md struct {
		Blake2b string `json:"blake2b"`
	}
	if err := json.Unmarshal(metadata, &md); err != nil {
		return ""
	}
	return md.Blake2b
}
