// Package filesig verifies that a file's content matches what its
// extension claims. Ransomware that keeps original names while
// replacing content turns media and documents into uniform random
// bytes; a failed magic or structural check here is what lets the
// detector score formats it would otherwise skip as naturally
// high-entropy.
package filesig

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rwcarlsen/goexif/exif"
)

// exif reads are capped so a crafted file cannot balloon the check.
const maxExifBytes = 1 << 20

// Result describes one verification.
type Result struct {
	ClaimedExt   string `json:"claimed_ext"`
	DetectedExt  string `json:"detected_ext,omitempty"`
	MIME         string `json:"mime,omitempty"`
	MagicMatch   bool   `json:"magic_match"`
	DeepChecked  bool   `json:"deep_checked"`
	DeepVerified bool   `json:"deep_verified"`
	Detail       string `json:"detail,omitempty"`
}

// Suspicious reports whether the content contradicts the claimed type.
func (r Result) Suspicious() bool {
	if !r.MagicMatch {
		return true
	}
	return r.DeepChecked && !r.DeepVerified
}

var extAliases = map[string]string{
	"jpeg": "jpg",
	"tiff": "tif",
	"mpeg": "mpg",
}

func canonicalExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if alias, ok := extAliases[ext]; ok {
		return alias
	}
	return ext
}

func isOOXML(ext string) bool {
	return ext == "docx" || ext == "xlsx" || ext == "pptx"
}

// Verify checks path's content against its claimed extension. header
// should be the first bytes of the file (261 are enough for magic
// detection); structural checks reopen the file themselves.
func Verify(path, claimedExt string, header []byte) Result {
	claimed := canonicalExt(claimedExt)
	r := Result{ClaimedExt: claimed}

	detected, err := filetype.Match(header)
	if err == nil && detected != types.Unknown {
		r.DetectedExt = canonicalExt(detected.Extension)
		r.MIME = detected.MIME.Value
	}

	r.MagicMatch = magicMatches(claimed, r.DetectedExt)

	switch claimed {
	case "pdf":
		r.DeepChecked = true
		r.DeepVerified, r.Detail = verifyPDF(path)
	case "docx", "xlsx", "pptx":
		r.DeepChecked = true
		r.DeepVerified, r.Detail = verifyOOXML(path)
	case "zip":
		r.DeepChecked = true
		r.DeepVerified, r.Detail = verifyZip(path)
	case "jpg":
		// EXIF presence is optional in valid JPEGs, so its absence
		// never fails verification; a decoded timestamp is kept as a
		// breadcrumb.
		if r.MagicMatch {
			r.Detail = exifDetail(path)
		}
	}
	return r
}

// magicMatches decides whether the detected magic is consistent with
// the claimed extension. Claims with no registered matcher get the
// benefit of the doubt; registered claims with unknown or conflicting
// magic do not.
func magicMatches(claimed, detected string) bool {
	if claimed == detected {
		return true
	}
	// OOXML containers and plain archives share the zip magic, and a
	// short header may not reach the inner markers that would narrow
	// the match.
	if detected == "zip" && (isOOXML(claimed) || claimed == "jar" || claimed == "war" || claimed == "epub" || claimed == "apk") {
		return true
	}
	if isOOXML(detected) && claimed == "zip" {
		return true
	}
	if filetype.GetType(claimed) == types.Unknown {
		return true
	}
	return false
}

func verifyPDF(path string) (bool, string) {
	f, err := os.Open(path)
	if err != nil {
		return false, ""
	}
	defer f.Close()

	info, err := api.PDFInfo(f, path, nil, false, nil)
	if err != nil {
		return false, ""
	}
	if info != nil && info.Producer != "" {
		return true, "producer=" + info.Producer
	}
	return true, ""
}

// verifyOOXML requires the content-types manifest every Office
// container carries, and pulls the author from core.xml when present.
func verifyOOXML(path string) (bool, string) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false, ""
	}
	defer zr.Close()

	hasManifest := false
	var core *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case "[Content_Types].xml":
			hasManifest = true
		case "docProps/core.xml":
			core = f
		}
	}
	if !hasManifest {
		return false, ""
	}
	if core == nil {
		return true, ""
	}

	rc, err := core.Open()
	if err != nil {
		return true, ""
	}
	defer rc.Close()

	var props struct {
		Creator string `xml:"creator"`
	}
	if err := xml.NewDecoder(io.LimitReader(rc, maxExifBytes)).Decode(&props); err != nil {
		return true, ""
	}
	if props.Creator != "" {
		return true, "creator=" + props.Creator
	}
	return true, ""
}

func verifyZip(path string) (bool, string) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false, ""
	}
	defer zr.Close()
	return true, ""
}

func exifDetail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	x, err := exif.Decode(io.LimitReader(f, maxExifBytes))
	if err != nil {
		return ""
	}
	if tm, err := x.DateTime(); err == nil {
		return "exif_datetime=" + tm.Format(time.RFC3339)
	}
	return ""
}
