package build

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

// Fingerprint identifies a build: two descriptors with the same fingerprint
// produce the same prefix contents.
func Fingerprint(d formula.Descriptor) string {
	h := sha256.New()
	writeField := func(s string) {
		fmt.Fprintf(h, "%d:%s\n", len(s), s)
	}

	writeField(d.Name())
	writeField(d.Version())
	writeField(d.Checksum().String())
	writeField(fmt.Sprint(d.StripComponents()))
	for _, step := range d.BuildSteps() {
		writeField(step.Program())
		for _, arg := range step.Args() {
			writeField(arg)
		}
		_, _ = io.WriteString(h, "\x00")
	}
	return hex.EncodeToString(h.Sum(nil))
}
