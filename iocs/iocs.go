// Package iocs holds the static indicators the detector consults on
// every event: known ransomware extensions, ransom note name fragments,
// and formats whose content is high-entropy by nature.
package iocs

import (
	"bytes"
	"strings"

	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"
)

// Extensions appended by ransomware families. Matched exactly against
// the final lowercased extension.
var ransomExtensions = []string{
	".encrypted", ".locked", ".crypto", ".crypt", ".enc", ".cry",
	".locky", ".zepto", ".odin", ".aesir", ".thor", ".osiris",
	".cerber", ".cerber2", ".cerber3", ".sage", ".globe", ".dharma",
	".wallet", ".arena", ".bip", ".combo", ".gamma", ".krab",
	".rapid", ".djvu", ".adobe", ".wncry", ".wcry", ".wncryt",
	".wannacry", ".petya", ".zzzzz", ".micro", ".ecc", ".ezz",
	".exx", ".xyz", ".ttt", ".vvv", ".ccc", ".abc",
	".cryptolocker", ".vault", ".karma", ".lukitus", ".diablo6",
	".phobos", ".makop", ".lockbit", ".conti", ".ryk", ".ryuk",
	".clop", ".netwalker", ".mespinoza", ".pysa",
}

// Formats that are compressed or encrypted by design. High entropy in
// these is expected, so they skip entropy analysis unless masquerade
// checks or a ransom extension say otherwise.
var highEntropyExtensions = []string{
	".zip", ".rar", ".7z", ".gz", ".bz2", ".xz", ".zst", ".lz4",
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic",
	".mp3", ".ogg", ".flac", ".aac", ".m4a",
	".mp4", ".avi", ".mkv", ".mov", ".webm", ".wmv",
	".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".ods", ".odp",
	".apk", ".jar", ".war", ".epub",
}

// Name fragments common to ransom notes, matched as substrings of the
// lowercased base name.
var noteTerms = []string{
	"readme_decrypt", "read_me_for_decrypt", "how_to_decrypt",
	"how_to_recover", "how_to_restore", "how_to_back_files",
	"decrypt_instructions", "decryption_instructions",
	"decrypt_my_files", "decrypt_your_files",
	"recover_my_files", "restore_my_files", "restore_files",
	"your_files_are_encrypted", "files_encrypted",
	"unlock_your_files", "ransom_note", "pay_for_decrypt",
	"_readme.txt", "help_decrypt", "attention_your_files",
}

// Phrases common to ransom note bodies, matched against lowercased
// plaintext content.
var notePhrases = []string{
	"your files have been encrypted",
	"all of your files are encrypted",
	"files are encrypted",
	"recover your files",
	"restore your files",
	"decryption key",
	"private key",
	"decryptor",
	"bitcoin",
	"tor browser",
	"do not rename encrypted files",
	"pay the ransom",
}

var (
	ransomSet     map[string]struct{}
	ransomFilter  *xorfilter.Xor8
	highEntSet    map[string]struct{}
	nameCounter   termCounter
	phraseCounter termCounter
)

func init() {
	ransomSet = make(map[string]struct{}, len(ransomExtensions))
	keys := make([]uint64, 0, len(ransomExtensions))
	for _, ext := range ransomExtensions {
		if _, dup := ransomSet[ext]; dup {
			continue
		}
		ransomSet[ext] = struct{}{}
		keys = append(keys, xxhash.Sum64String(ext))
	}
	// The filter rejects the overwhelmingly common case without a map
	// probe; hits are confirmed exactly. A build failure just means
	// every lookup pays for the map.
	if f, err := xorfilter.Populate(keys); err == nil {
		ransomFilter = f
	}

	highEntSet = make(map[string]struct{}, len(highEntropyExtensions))
	for _, ext := range highEntropyExtensions {
		highEntSet[ext] = struct{}{}
	}

	nameCounter = buildTermCounter(noteTerms)
	phraseCounter = buildTermCounter(notePhrases)
}

// RansomExtension reports whether ext is a known ransomware extension.
func RansomExtension(ext string) bool {
	if ext == "" {
		return false
	}
	ext = strings.ToLower(ext)
	if ransomFilter != nil && !ransomFilter.Contains(xxhash.Sum64String(ext)) {
		return false
	}
	_, ok := ransomSet[ext]
	return ok
}

// NaturallyHighEntropy reports whether ext names a format that is
// compressed or encrypted by design.
func NaturallyHighEntropy(ext string) bool {
	if ext == "" {
		return false
	}
	_, ok := highEntSet[strings.ToLower(ext)]
	return ok
}

// SkipEntropyAnalysis reports whether entropy scoring should be skipped
// for this extension. A known ransom extension always overrides the
// skip list.
func SkipEntropyAnalysis(ext string) bool {
	return NaturallyHighEntropy(ext) && !RansomExtension(ext)
}

// MatchNoteName reports whether the base file name looks like a ransom
// note.
func MatchNoteName(name string) bool {
	if name == "" {
		return false
	}
	return len(nameCounter.CountBytes([]byte(strings.ToLower(name)))) > 0
}

// ScanNoteContent counts ransom note phrases in a content sample. The
// returned map is nil when nothing matched.
func ScanNoteContent(data []byte) map[string]int {
	if len(data) == 0 {
		return nil
	}
	return phraseCounter.CountBytes(bytes.ToLower(data))
}
