package filesig

import (
	"archive/zip"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func header(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) > 261 {
		data = data[:261]
	}
	return data
}

func writeRandom(t *testing.T, path string, n int) {
	t.Helper()
	buf := make([]byte, n)
	rng := rand.New(rand.NewSource(7))
	rng.Read(buf)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeOOXML(t *testing.T, path string, withManifest bool) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	if withManifest {
		w, err := zw.Create("[Content_Types].xml")
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write([]byte(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`))
	}
	w, err := zw.Create("docProps/core.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	w.Write([]byte(`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:creator>alice</dc:creator></cp:coreProperties>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}
}

func TestVerifyRealDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	writeOOXML(t, path, true)

	r := Verify(path, ".docx", header(t, path))
	if !r.MagicMatch {
		t.Errorf("magic mismatch for real container: %+v", r)
	}
	if !r.DeepChecked || !r.DeepVerified {
		t.Errorf("deep verification failed for real container: %+v", r)
	}
	if r.Detail != "creator=alice" {
		t.Errorf("detail = %q, want creator breadcrumb", r.Detail)
	}
	if r.Suspicious() {
		t.Error("real docx flagged suspicious")
	}
}

func TestVerifyEncryptedBytesClaimingJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	writeRandom(t, path, 4096)

	r := Verify(path, ".jpg", header(t, path))
	if r.MagicMatch {
		t.Errorf("random bytes matched jpg magic: %+v", r)
	}
	if !r.Suspicious() {
		t.Error("encrypted bytes under media name should be suspicious")
	}
}

func TestVerifyEncryptedBytesClaimingPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.pdf")
	writeRandom(t, path, 4096)

	r := Verify(path, ".pdf", header(t, path))
	if !r.DeepChecked {
		t.Error("pdf claim should run the structural check")
	}
	if r.DeepVerified {
		t.Error("random bytes passed pdf structural check")
	}
	if !r.Suspicious() {
		t.Error("expected suspicious result")
	}
}

func TestVerifyZipMissingManifestClaimingDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.docx")
	writeOOXML(t, path, false)

	r := Verify(path, ".docx", header(t, path))
	if !r.MagicMatch {
		t.Errorf("zip magic should satisfy an ooxml claim: %+v", r)
	}
	if r.DeepVerified {
		t.Error("container without manifest passed deep check")
	}
	if !r.Suspicious() {
		t.Error("expected suspicious result")
	}
}

func TestVerifyJPEGMagicOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pic.jpeg")
	hdr := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	if err := os.WriteFile(path, hdr, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := Verify(path, ".jpeg", hdr)
	if !r.MagicMatch {
		t.Errorf("jpg magic not recognized: %+v", r)
	}
	if r.DeepChecked {
		t.Error("jpeg should not hard-fail on structure")
	}
	if r.Suspicious() {
		t.Error("valid magic with no deep check flagged suspicious")
	}
}

func TestVerifyUnregisteredClaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.lz4")
	writeRandom(t, path, 512)

	r := Verify(path, ".lz4", header(t, path))
	if !r.MagicMatch {
		t.Error("claims without a registered matcher get the benefit of the doubt")
	}
	if r.Suspicious() {
		t.Error("unverifiable claim should not be suspicious on its own")
	}
}
