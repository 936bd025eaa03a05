package hashing

import (
	"bytes"
	"io"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	data := []byte("scanned page contents")
	first := Hash(data)
	second := Hash(data)
	if first != second {
		t.Fatalf("hash not deterministic: %s != %s", first, second)
	}
	if len(first) != DigestLength {
		t.Fatalf("unexpected digest length: %d", len(first))
	}
	if Hash([]byte("other")) == first {
		t.Fatalf("different content produced identical digest")
	}
}

func TestHashReaderRestoresPosition(t *testing.T) {
	data := []byte("0123456789")
	r := bytes.NewReader(data)

	// Consume part of the stream first.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	digest, err := HashReader(r)
	if err != nil {
		t.Fatalf("HashReader() error = %v", err)
	}
	if digest != Hash(data) {
		t.Fatalf("HashReader digest %s != Hash digest %s", digest, Hash(data))
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if pos != 4 {
		t.Fatalf("read position not restored: got %d, want 4", pos)
	}

	// Hashing twice yields identical digests.
	again, err := HashReader(r)
	if err != nil {
		t.Fatalf("HashReader() error = %v", err)
	}
	if again != digest {
		t.Fatalf("re-hash changed digest: %s != %s", again, digest)
	}
}
