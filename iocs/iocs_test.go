package iocs

import (
	"bytes"
	"reflect"
	"testing"
)

func TestRansomExtension(t *testing.T) {
	positives := []string{".encrypted", ".LOCKED", ".wncry", ".lockbit", ".djvu"}
	for _, ext := range positives {
		if !RansomExtension(ext) {
			t.Errorf("RansomExtension(%q) = false, want true", ext)
		}
	}

	negatives := []string{".txt", ".docx", ".go", ".tar", ""}
	for _, ext := range negatives {
		if RansomExtension(ext) {
			t.Errorf("RansomExtension(%q) = true, want false", ext)
		}
	}
}

func TestRansomExtensionFilterAgreesWithSet(t *testing.T) {
	// Every listed extension must pass the fast-reject filter.
	for _, ext := range ransomExtensions {
		if !RansomExtension(ext) {
			t.Errorf("listed extension %q rejected", ext)
		}
	}
}

func TestSkipEntropyAnalysis(t *testing.T) {
	if !SkipEntropyAnalysis(".zip") {
		t.Error("archives should skip entropy analysis")
	}
	if !SkipEntropyAnalysis(".JPG") {
		t.Error("media should skip entropy analysis, case-insensitively")
	}
	if SkipEntropyAnalysis(".txt") {
		t.Error("plaintext should not skip entropy analysis")
	}
	if SkipEntropyAnalysis(".encrypted") {
		t.Error("ransom extension must never skip analysis")
	}
}

func TestMatchNoteName(t *testing.T) {
	positives := []string{
		"README_DECRYPT.txt",
		"HOW_TO_DECRYPT_FILES.html",
		"_readme.txt",
		"your_files_are_encrypted.hta",
		"IMPORTANT-restore_my_files.TXT",
	}
	for _, name := range positives {
		if !MatchNoteName(name) {
			t.Errorf("MatchNoteName(%q) = false, want true", name)
		}
	}

	negatives := []string{
		"README.md",
		"notes.txt",
		"restore_points.csv",
		"",
	}
	for _, name := range negatives {
		if MatchNoteName(name) {
			t.Errorf("MatchNoteName(%q) = true, want false", name)
		}
	}
}

func TestScanNoteContent(t *testing.T) {
	note := []byte("ATTENTION! Your files have been encrypted.\n" +
		"To get the decryption key, send 0.5 Bitcoin to the address below.\n" +
		"Download the Tor Browser and contact us. Do not rename encrypted files.")
	hits := ScanNoteContent(note)
	if hits["your files have been encrypted"] != 1 {
		t.Errorf("expected encryption phrase hit, got %v", hits)
	}
	if hits["bitcoin"] != 1 || hits["tor browser"] != 1 {
		t.Errorf("expected bitcoin and tor hits, got %v", hits)
	}

	if got := ScanNoteContent([]byte("quarterly revenue grew 4% over Q2")); got != nil {
		t.Errorf("benign text should not match, got %v", got)
	}
	if got := ScanNoteContent(nil); got != nil {
		t.Errorf("empty content should not match, got %v", got)
	}
}

func TestTermCounterStrategiesAgree(t *testing.T) {
	// notePhrases has enough terms for the Aho-Corasick path, so only
	// content length decides the strategy. Both must count identically.
	small := []byte("send bitcoin, then more bitcoin, decryptor follows")
	large := append(bytes.Repeat([]byte("filler text with no indicators. "), 200), small...)

	auto, ok := phraseCounter.(autoTermCounter)
	if !ok {
		t.Fatalf("phrase counter should auto-select, got %T", phraseCounter)
	}
	if len(large) < autoAhoMinContentBytes {
		t.Fatalf("test buffer too small to trigger aho path: %d", len(large))
	}

	for _, content := range [][]byte{small, large} {
		naive := auto.naive.CountBytes(content)
		aho := auto.aho.CountBytes(content)
		if !reflect.DeepEqual(naive, aho) {
			t.Errorf("strategies disagree on %d bytes: naive=%v aho=%v", len(content), naive, aho)
		}
	}

	hits := ScanNoteContent(small)
	if hits["bitcoin"] != 2 || hits["decryptor"] != 1 {
		t.Errorf("unexpected counts: %v", hits)
	}
}
