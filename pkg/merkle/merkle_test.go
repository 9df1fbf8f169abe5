package merkle

import (
	"bytes"
	"crypto/rand"
	"testing"

	"pgregory.net/rapid"
)

func randomData(t testing.TB, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return data
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		want      int
		lastLen   int
	}{
		{"exact multiple", 64 * 1024, 1024, 64, 1024},
		{"short tail", 1000, 256, 4, 232},
		{"single chunk", 100, 1024, 1, 100},
		{"one byte", 1, 1024, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := randomData(t, tt.size)
			chunks, err := Split(data, tt.chunkSize)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if len(chunks) != tt.want {
				t.Fatalf("expected %d chunks, got %d", tt.want, len(chunks))
			}
			if got := len(chunks[len(chunks)-1].Data); got != tt.lastLen {
				t.Errorf("last chunk: expected %d bytes, got %d", tt.lastLen, got)
			}

			// Concatenation reconstructs the input, hashes match contents.
			var joined []byte
			for _, c := range chunks {
				if c.Hash != LeafHash(c.Data) {
					t.Error("chunk hash does not match chunk bytes")
				}
				joined = append(joined, c.Data...)
			}
			if !bytes.Equal(joined, data) {
				t.Error("chunks do not reassemble to the input")
			}
		})
	}
}

func TestSplit_InvalidChunkSize(t *testing.T) {
	if _, err := Split([]byte("data"), 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := Split([]byte("data"), -1); err == nil {
		t.Error("expected error for negative chunk size")
	}
}

func TestBuildTree_EmptyChunks(t *testing.T) {
	if _, err := BuildTree(nil); err == nil {
		t.Error("expected error for empty chunk set")
	}
}

func TestBuildTree_Geometry(t *testing.T) {
	data := randomData(t, 64*1024)
	chunks, err := Split(data, 1024)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	tree, err := BuildTree(chunks)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	if tree.LeafCount() != 64 {
		t.Errorf("expected 64 leaves, got %d", tree.LeafCount())
	}
	if tree.Height() != 6 {
		t.Errorf("expected height 6, got %d", tree.Height())
	}
	if len(tree.RootHex()) != 64 {
		t.Errorf("root hex should be 64 chars, got %d", len(tree.RootHex()))
	}

	// Same chunks, same root.
	again, err := BuildTree(chunks)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	if tree.RootHex() != again.RootHex() {
		t.Error("root not deterministic")
	}
}

func TestProveVerify_AllIndices(t *testing.T) {
	// Covers power-of-two, odd, and prime leaf counts, so the
	// duplicate-last rule is exercised at multiple levels.
	for _, count := range []int{1, 2, 3, 4, 5, 7, 8, 13, 16, 17} {
		data := randomData(t, count*64)
		chunks, err := Split(data, 64)
		if err != nil {
			t.Fatalf("Split failed: %v", err)
		}
		tree, err := BuildTree(chunks)
		if err != nil {
			t.Fatalf("BuildTree failed: %v", err)
		}

		for i := 0; i < count; i++ {
			proof, err := tree.Prove(i)
			if err != nil {
				t.Fatalf("Prove(%d) with %d leaves failed: %v", i, count, err)
			}
			leaf := LeafHash(chunks[i].Data)
			if !VerifyProof(tree.Root(), leaf[:], i, count, proof) {
				t.Errorf("proof for index %d of %d leaves did not verify", i, count)
			}
		}
	}
}

func TestProve_IndexOutOfRange(t *testing.T) {
	chunks, _ := Split(randomData(t, 1024), 256)
	tree, err := BuildTree(chunks)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	if _, err := tree.Prove(-1); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := tree.Prove(tree.LeafCount()); err == nil {
		t.Error("expected error for index past the last leaf")
	}
}

func TestVerifyProof_Tampering(t *testing.T) {
	chunks, _ := Split(randomData(t, 8*512), 512)
	tree, err := BuildTree(chunks)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	const index = 3
	proof, err := tree.Prove(index)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	leaf := LeafHash(chunks[index].Data)

	t.Run("tampered chunk", func(t *testing.T) {
		mutated := append([]byte(nil), chunks[index].Data...)
		mutated[0] ^= 1
		bad := LeafHash(mutated)
		if VerifyProof(tree.Root(), bad[:], index, 8, proof) {
			t.Error("tampered chunk verified")
		}
	})

	t.Run("wrong index", func(t *testing.T) {
		if VerifyProof(tree.Root(), leaf[:], index+1, 8, proof) {
			t.Error("proof verified at the wrong index")
		}
	})

	t.Run("truncated proof", func(t *testing.T) {
		if VerifyProof(tree.Root(), leaf[:], index, 8, proof[:len(proof)-1]) {
			t.Error("truncated proof verified")
		}
	})

	t.Run("tampered sibling", func(t *testing.T) {
		bad := make(Proof, len(proof))
		copy(bad, proof)
		badHash := append([]byte(nil), bad[0].Hash...)
		badHash[0] ^= 1
		bad[0] = ProofStep{Hash: badHash, Right: bad[0].Right}
		if VerifyProof(tree.Root(), leaf[:], index, 8, bad) {
			t.Error("proof with tampered sibling verified")
		}
	})

	t.Run("flipped direction", func(t *testing.T) {
		bad := make(Proof, len(proof))
		copy(bad, proof)
		bad[0] = ProofStep{Hash: bad[0].Hash, Right: !bad[0].Right}
		if VerifyProof(tree.Root(), leaf[:], index, 8, bad) {
			t.Error("proof with flipped direction verified")
		}
	})

	t.Run("index out of range", func(t *testing.T) {
		if VerifyProof(tree.Root(), leaf[:], 8, 8, proof) {
			t.Error("out-of-range index verified")
		}
	})
}

func TestIndexForSeed(t *testing.T) {
	seed := []byte("round seed")

	a := IndexForSeed(seed, 64)
	b := IndexForSeed(seed, 64)
	if a != b {
		t.Errorf("IndexForSeed not deterministic: %d vs %d", a, b)
	}
	if IndexForSeed(seed, 0) != 0 {
		t.Error("zero count should map to index 0")
	}
}

func TestTree_Property_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 8192).Draw(t, "data")
		chunkSize := rapid.IntRange(1, 1024).Draw(t, "chunkSize")

		chunks, err := Split(data, chunkSize)
		if err != nil {
			t.Fatalf("Split failed: %v", err)
		}
		tree, err := BuildTree(chunks)
		if err != nil {
			t.Fatalf("BuildTree failed: %v", err)
		}

		seed := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "seed")
		index := IndexForSeed(seed, tree.LeafCount())
		if index < 0 || index >= tree.LeafCount() {
			t.Fatalf("IndexForSeed out of range: %d of %d", index, tree.LeafCount())
		}

		proof, err := tree.Prove(index)
		if err != nil {
			t.Fatalf("Prove failed: %v", err)
		}
		leaf := LeafHash(chunks[index].Data)
		if !VerifyProof(tree.Root(), leaf[:], index, tree.LeafCount(), proof) {
			t.Fatal("proof did not verify")
		}
	})
}
