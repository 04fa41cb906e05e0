// Copyright 2025 Certen Protocol
package merkle

import (
	"crypto/sha256"
	"testing"
)

func TestBuildAttachmentIndex_SingleLeaf(t *testing.T) {
	leaf := sha256.Sum256([]byte("test data"))
	tree, err := BuildAttachmentIndex([][32]byte{leaf})
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	if tree.Root() != leaf {
		t.Errorf("single leaf root mismatch: got %x, want %x", tree.Root(), leaf)
	}
	if tree.LeafCount() != 1 {
		t.Errorf("leaf count = %d, want 1", tree.LeafCount())
	}
}

func TestBuildAttachmentIndex_TwoLeaves(t *testing.T) {
	leaf1 := sha256.Sum256([]byte("leaf 1"))
	leaf2 := sha256.Sum256([]byte("leaf 2"))

	tree, err := BuildAttachmentIndex([][32]byte{leaf1, leaf2})
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	want := hashPair(leaf1, leaf2)
	if tree.Root() != want {
		t.Errorf("two leaf root mismatch: got %x, want %x", tree.Root(), want)
	}
}

func TestBuildAttachmentIndex_OddLeafPromotedNotDuplicated(t *testing.T) {
	leaf1 := sha256.Sum256([]byte("leaf 1"))
	leaf2 := sha256.Sum256([]byte("leaf 2"))
	leaf3 := sha256.Sum256([]byte("leaf 3"))

	tree, err := BuildAttachmentIndex([][32]byte{leaf1, leaf2, leaf3})
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	top := hashPair(leaf1, leaf2)
	want := hashPair(top, leaf3) // leaf3 promoted unchanged, not hashPair(leaf3, leaf3)
	if tree.Root() != want {
		t.Errorf("odd-leaf root mismatch: got %x, want %x", tree.Root(), want)
	}
}

func TestBuildAttachmentIndex_EmptyFails(t *testing.T) {
	if _, err := BuildAttachmentIndex(nil); err != ErrEmptyTree {
		t.Fatalf("expected ErrEmptyTree, got %v", err)
	}
}

func TestProveAndVerifyInclusion_AllLeaves(t *testing.T) {
	var leaves [][32]byte
	for i := 0; i < 5; i++ {
		leaves = append(leaves, sha256.Sum256([]byte{byte(i)}))
	}

	tree, err := BuildAttachmentIndex(leaves)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	root := tree.Root()

	for _, leaf := range leaves {
		proof, err := tree.Prove(leaf)
		if err != nil {
			t.Fatalf("prove %x: %v", leaf, err)
		}
		if !VerifyInclusion(root, proof) {
			t.Errorf("inclusion proof for %x did not verify", leaf)
		}
	}
}

func TestProve_UnknownLeafFails(t *testing.T) {
	leaves := [][32]byte{sha256.Sum256([]byte("a")), sha256.Sum256([]byte("b"))}
	tree, err := BuildAttachmentIndex(leaves)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	unknown := sha256.Sum256([]byte("not in the tree"))
	if _, err := tree.Prove(unknown); err != ErrLeafNotFound {
		t.Fatalf("expected ErrLeafNotFound, got %v", err)
	}
}

func TestVerifyInclusion_TamperedLeafFails(t *testing.T) {
	leaves := [][32]byte{
		sha256.Sum256([]byte("a")),
		sha256.Sum256([]byte("b")),
		sha256.Sum256([]byte("c")),
		sha256.Sum256([]byte("d")),
	}
	tree, err := BuildAttachmentIndex(leaves)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	proof, err := tree.Prove(leaves[2])
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	proof.Leaf = sha256.Sum256([]byte("tampered"))

	if VerifyInclusion(tree.Root(), proof) {
		t.Fatal("tampered leaf must not verify")
	}
}

func TestVerifyInclusion_WrongRootFails(t *testing.T) {
	leaves := [][32]byte{sha256.Sum256([]byte("a")), sha256.Sum256([]byte("b"))}
	tree, err := BuildAttachmentIndex(leaves)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	proof, err := tree.Prove(leaves[0])
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	wrongRoot := sha256.Sum256([]byte("some other root"))
	if VerifyInclusion(wrongRoot, proof) {
		t.Fatal("proof must not verify against an unrelated root")
	}
}

func TestVerifyInclusion_NilProofFails(t *testing.T) {
	var root [32]byte
	if VerifyInclusion(root, nil) {
		t.Fatal("nil proof must never verify")
	}
}

func TestProveAndVerifyInclusion_LargeTree(t *testing.T) {
	var leaves [][32]byte
	for i := 0; i < 100; i++ {
		leaves = append(leaves, sha256.Sum256([]byte{byte(i), byte(i >> 8)}))
	}

	tree, err := BuildAttachmentIndex(leaves)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	root := tree.Root()

	for _, i := range []int{0, 1, 49, 50, 99} {
		proof, err := tree.Prove(leaves[i])
		if err != nil {
			t.Fatalf("leaf %d: prove: %v", i, err)
		}
		if !VerifyInclusion(root, proof) {
			t.Errorf("leaf %d: inclusion proof did not verify", i)
		}
	}
}
