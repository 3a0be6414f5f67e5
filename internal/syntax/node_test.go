package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDetectsEscapingChild(t *testing.T) {
	var a Arena
	root := a.New(KindProgram, 0, 10)
	bad := a.New(KindNumber, 5, 15)
	root.Children = append(root.Children, bad)

	err := (&Tree{Root: root}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes parent")
}

func TestValidateDetectsOverlappingSiblings(t *testing.T) {
	var a Arena
	root := a.New(KindProgram, 0, 10)
	first := a.New(KindNumber, 0, 5)
	second := a.New(KindNumber, 4, 8)
	root.Children = append(root.Children, first, second)

	err := (&Tree{Root: root}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestSexpLeafPayloads(t *testing.T) {
	var a Arena
	v := a.New(KindVariable, 0, 4)
	v.Sigil = '$'
	v.Name = "obj"
	s := a.New(KindString, 9, 18)
	s.Text = "'MyClass'"
	isa := a.New(KindBinaryISA, 0, 18)
	isa.Children = append(isa.Children, v, s)
	prog := a.New(KindProgram, 0, 18)
	prog.Children = append(prog.Children, isa)

	got := ToSexp(&Tree{Root: prog})
	assert.Equal(t, `(program (binary_ISA (variable $ obj) (string "'MyClass'")))`, got)
}

func TestSexpEscaping(t *testing.T) {
	var a Arena
	s := a.New(KindString, 0, 8)
	s.Text = `"a\"b"`
	prog := a.New(KindProgram, 0, 8)
	prog.Children = append(prog.Children, s)

	got := ToSexp(&Tree{Root: prog})
	assert.Equal(t, `(program (string "\"a\\\"b\""))`, got)
}

func TestNormalizeSexp(t *testing.T) {
	in := "(program\n  (call print\n    (variable $ x)))"
	assert.Equal(t, "(program (call print (variable $ x)))", NormalizeSexp(in))
}

func TestChildAt(t *testing.T) {
	var a Arena
	prog := a.New(KindProgram, 0, 20)
	stmt := a.New(KindCall, 0, 10)
	arg := a.New(KindVariable, 6, 8)
	stmt.Children = append(stmt.Children, arg)
	prog.Children = append(prog.Children, stmt)

	assert.Equal(t, arg, prog.ChildAt(7))
	assert.Equal(t, stmt, prog.ChildAt(2))
	assert.Equal(t, prog, prog.ChildAt(15))
	assert.Nil(t, prog.ChildAt(25))
}

func TestArenaNodesStayValidAcrossGrowth(t *testing.T) {
	var a Arena
	var nodes []*Node
	for i := 0; i < 1000; i++ {
		nodes = append(nodes, a.New(KindNumber, i, i+1))
	}
	for i, n := range nodes {
		assert.Equal(t, i, n.Start, "node %d must not move when the arena grows", i)
	}
}
