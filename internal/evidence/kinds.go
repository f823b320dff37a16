package evidence

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"safeworks.org/ptw/internal/blob"
)

const (
	mimeDOC  = "application/msword"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var imageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// UploadKind bounds the size and media types of one upload surface.
type UploadKind struct {
	Name     string
	Blob     blob.Kind
	MaxBytes int64
	Types    []string
}

var (
	KindEvidence = UploadKind{
		Name:     "evidence",
		Blob:     blob.KindEvidence,
		MaxBytes: 5 << 20,
		Types:    imageTypes,
	}
	KindSWMS = UploadKind{
		Name:     "swms",
		Blob:     blob.KindSWMS,
		MaxBytes: 10 << 20,
		Types:    append(append([]string(nil), imageTypes...), "application/pdf", mimeDOC, mimeDOCX),
	}
	KindSignature = UploadKind{
		Name:     "signature",
		Blob:     blob.KindSignature,
		MaxBytes: 2 << 20,
		Types:    imageTypes,
	}
)

// File is one uploaded part.
type File struct {
	Name string
	Data []byte
}

// Sniff returns the detected media type of data.
func Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}

// Check enforces the size limit and sniffs the content against the allow-list.
// It returns the detected media type.
func (k UploadKind) Check(f File) (string, error) {
	if len(f.Data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrNoFiles, f.Name)
	}
	if int64(len(f.Data)) > k.MaxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, f.Name, len(f.Data), k.MaxBytes)
	}
	detected := mimetype.Detect(f.Data)
	for m := detected; m != nil; m = m.Parent() {
		if mimetype.EqualsAny(m.String(), k.Types...) {
			return m.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s is %s", ErrUnsupportedMedia, f.Name, detected.String())
}
