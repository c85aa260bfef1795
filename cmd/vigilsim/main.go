// vigilsim writes synthetic filesystem traffic at a directory watched
// by the detector: benign edits to exercise baselining, and
// encryption-style attack traffic (mass random-byte rewrites, ransom
// extensions, ransom notes) to exercise the alerting path.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
)

var ransomExtensions = []string{".locked", ".crypt", ".enc", ".wcry", ".cerber"}

var noteNames = []string{
	"DECRYPT_INSTRUCTIONS.txt",
	"HOW_TO_RECOVER_FILES.txt",
	"README_RESTORE.txt",
}

const noteBody = `YOUR FILES HAVE BEEN ENCRYPTED!
All of your documents, photos, and databases are no longer accessible.
To restore your files you must obtain the private key.
Send payment in bitcoin to the address below within 72 hours.
`

func main() {
	dir := flag.String("dir", "./simulated", "Target directory for generated traffic.")
	mode := flag.String("mode", "benign", "Traffic mode: benign, burst, or attack.")
	count := flag.Int("count", 20, "Number of files to write.")
	size := flag.Int("size", 10000, "Approximate file size in bytes.")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between writes.")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Seed for file-name and size jitter.")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot create target directory: %v\n", err)
		os.Exit(1)
	}

	rng := mathrand.New(mathrand.NewSource(*seed))

	var err error
	switch *mode {
	case "benign":
		err = writeBenign(*dir, *count, *size, *interval, rng)
	case "burst":
		err = writeBenign(*dir, *count, *size, 0, rng)
	case "attack":
		err = writeAttack(*dir, *count, *size, *interval, rng)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q (want benign, burst, or attack)\n", *mode)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}
}

// writeBenign creates plaintext files with a little content jitter. A
// zero interval writes as fast as the disk allows, which against a
// learned baseline looks like a burst.
func writeBenign(dir string, count, size int, interval time.Duration, rng *mathrand.Rand) error {
	bar := progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Writing benign files"),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
	)
	for i := 0; i < count; i++ {
		name := filepath.Join(dir, fmt.Sprintf("report_%03d.txt", i+1))
		if err := os.WriteFile(name, plaintext(size, rng), 0644); err != nil {
			return err
		}
		bar.Add(1)
		if interval > 0 {
			time.Sleep(interval)
		}
	}
	fmt.Println()
	return nil
}

// writeAttack emulates an encryption run: every file is filled with
// random bytes under a ransom extension, and notes are dropped at the
// end the way real families do.
func writeAttack(dir string, count, size int, interval time.Duration, rng *mathrand.Rand) error {
	bar := progressbar.NewOptions(count+len(noteNames),
		progressbar.OptionSetDescription("Writing attack traffic"),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
	)
	for i := 0; i < count; i++ {
		ext := ransomExtensions[rng.Intn(len(ransomExtensions))]
		name := filepath.Join(dir, fmt.Sprintf("document_%03d%s", i+1, ext))
		buf := make([]byte, jitter(size, rng))
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		if err := os.WriteFile(name, buf, 0644); err != nil {
			return err
		}
		bar.Add(1)
		if interval > 0 {
			time.Sleep(interval)
		}
	}
	for _, note := range noteNames {
		if err := os.WriteFile(filepath.Join(dir, note), []byte(noteBody), 0644); err != nil {
			return err
		}
		bar.Add(1)
	}
	fmt.Println()
	return nil
}

func plaintext(size int, rng *mathrand.Rand) []byte {
	const words = "the quick brown fox jumps over the lazy dog and files a quarterly report "
	target := jitter(size, rng)
	buf := make([]byte, 0, target+len(words))
	for len(buf) < target {
		buf = append(buf, words...)
	}
	return buf[:target]
}

// jitter varies the size by up to 20% so the files do not all hash and
// measure identically.
func jitter(size int, rng *mathrand.Rand) int {
	if size <= 0 {
		return 1
	}
	delta := size / 5
	if delta == 0 {
		return size
	}
	return size - delta/2 + rng.Intn(delta)
}
