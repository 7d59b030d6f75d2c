package state

import (
	"reflect"
	"testing"
)

func TestSortPairsInt(t *testing.T) {
	pairs := []Pair[int, int]{
		{V1: 3, V2: 10},
		{V1: 1, V2: 20},
		{V1: 1, V2: 5},
		{V1: 2, V2: 15},
	}
	expected := []Pair[int, int]{
		{V1: 1, V2: 5},
		{V1: 1, V2: 20},
		{V1: 2, V2: 15},
		{V1: 3, V2: 10},
	}
	SortPairs(pairs)
	if !reflect.DeepEqual(pairs, expected) {
		t.Fatalf("expected %v, got %v", expected, pairs)
	}
}

func TestSortPairsNodeId(t *testing.T) {
	pairs := []Pair[NodeId, NodeId]{
		MakeSortedPair[NodeId](0x20, 0x10),
		MakeSortedPair[NodeId](0x05, 0x30),
		MakeSortedPair[NodeId](0x05, 0x01),
	}
	expected := []Pair[NodeId, NodeId]{
		{V1: 0x01, V2: 0x05},
		{V1: 0x05, V2: 0x30},
		{V1: 0x10, V2: 0x20},
	}
	SortPairs(pairs)
	if !reflect.DeepEqual(pairs, expected) {
		t.Fatalf("expected %v, got %v", expected, pairs)
	}
}
