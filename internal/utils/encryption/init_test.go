package encryption

import "testing"

func TestDigesterIsDeterministicPerKey(t *testing.T) {
	d, err := NewDigester()
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}
	if d.Sum("secret") != d.Sum("secret") {
		t.Fatal("same secret produced different digests")
	}
	if d.Sum("secret") == d.Sum("other") {
		t.Fatal("different secrets produced the same digest")
	}
}

func TestDigestersDoNotShareKeys(t *testing.T) {
	a, err := NewDigester()
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}
	b, err := NewDigester()
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}
	if a.Sum("secret") == b.Sum("secret") {
		t.Fatal("independent digesters produced identical digests")
	}
}
